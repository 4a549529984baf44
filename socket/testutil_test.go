package socket

import (
	"io"
	"regexp"
	"sync"
	"testing"
	"time"
)

type fakeFrame struct {
	data   []byte
	binary bool
}

// fakeChannel is a scripted MessageChannel: tests push inbound frames and
// inspect what the connection wrote.
type fakeChannel struct {
	in chan fakeFrame

	mu      sync.Mutex
	written []fakeFrame

	closed      chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string

	// when non-nil, Write blocks until a token is received, simulating a
	// transport that stopped draining
	writeGate chan struct{}

	onClose []func(string)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan fakeFrame, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) Read() ([]byte, bool, error) {
	select {
	case f := <-c.in:
		return f.data, f.binary, nil
	case <-c.closed:
		return nil, false, io.EOF
	}
}

func (c *fakeChannel) Write(frame []byte, isBinary bool) error {
	if c.writeGate != nil {
		select {
		case <-c.writeGate:
		case <-c.closed:
			return ErrTransportClose
		}
	}
	select {
	case <-c.closed:
		return ErrTransportClose
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, fakeFrame{data: append([]byte{}, frame...), binary: isBinary})
	return nil
}

func (c *fakeChannel) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		callbacks := c.onClose
		c.mu.Unlock()
		close(c.closed)
		for _, fn := range callbacks {
			fn(reason)
		}
	})
	return nil
}

func (c *fakeChannel) RemoteAddress() string { return "127.0.0.1:54321" }
func (c *fakeChannel) LocalAddress() string  { return "127.0.0.1:8080" }

func (c *fakeChannel) OnClose(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

func (c *fakeChannel) pushText(s string) {
	c.in <- fakeFrame{data: []byte(s)}
}

func (c *fakeChannel) pushBinary(b []byte) {
	c.in <- fakeFrame{data: b, binary: true}
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) closedReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// textFrames returns every text frame written so far.
func (c *fakeChannel) textFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := []string{}
	for _, f := range c.written {
		if !f.binary {
			frames = append(frames, string(f.data))
		}
	}
	return frames
}

func (c *fakeChannel) binaryFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := [][]byte{}
	for _, f := range c.written {
		if f.binary {
			frames = append(frames, f.data)
		}
	}
	return frames
}

// waitFrame polls for a written text frame matching the pattern.
func (c *fakeChannel) waitFrame(t *testing.T, pattern string) string {
	t.Helper()
	re := regexp.MustCompile(pattern)
	var last []string
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); {
		last = c.textFrames()
		for _, frame := range last {
			if re.MatchString(frame) {
				return frame
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no frame matching %q, got %v", pattern, last)
	return ""
}

func (c *fakeChannel) waitClosed(t *testing.T) string {
	t.Helper()
	select {
	case <-c.closed:
		return c.closedReason()
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
		return ""
	}
}

// waitFor polls until cond holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestServer builds a server with timings that keep the heartbeat and
// the connect timeout out of the way unless a test opts in.
func newTestServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = DefaultServerOptions()
	}
	if opts.GetRawPingInterval() == nil {
		opts.SetPingInterval(time.Hour)
	}
	if opts.GetRawPingTimeout() == nil {
		opts.SetPingTimeout(time.Hour)
	}
	if opts.GetRawConnectTimeout() == nil {
		opts.SetConnectTimeout(time.Hour)
	}
	if opts.GetRawCloseGrace() == nil {
		opts.SetCloseGrace(50 * time.Millisecond)
	}
	return NewServer(opts)
}

// connect drives a fake channel through accept + attach on the given
// namespace and returns the server-side socket.
func connect(t *testing.T, io *Server, ch *fakeChannel, nsp string) *Socket {
	t.Helper()

	var mu sync.Mutex
	var connected *Socket
	io.Of(nsp, nil).On("connection", func(args ...any) {
		mu.Lock()
		defer mu.Unlock()
		if connected == nil {
			connected = args[0].(*Socket)
		}
	})

	if _, err := io.Accept(ch, nil); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	ch.waitFrame(t, `^0\{`)

	if nsp == "/" || nsp == "" {
		ch.pushText("40")
	} else {
		ch.pushText("40" + nsp + ",")
	}

	var socket *Socket
	waitFor(t, "socket to attach", func() bool {
		mu.Lock()
		defer mu.Unlock()
		socket = connected
		return socket != nil
	})
	return socket
}
