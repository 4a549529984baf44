package socket

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelicanio/socketio/pkg/types"
)

func TestHandshakeFrame(t *testing.T) {
	opts := DefaultServerOptions()
	opts.SetPingInterval(25 * time.Second)
	opts.SetPingTimeout(20 * time.Second)
	opts.SetMaxPayload(1e6)
	opts.SetConnectTimeout(time.Hour)
	io := newTestServer(opts)

	ch := newFakeChannel()
	if _, err := io.Accept(ch, nil); err != nil {
		t.Fatal(err)
	}

	frame := ch.waitFrame(t, `^0\{`)
	var handshake HandshakeData
	if err := json.Unmarshal([]byte(frame[1:]), &handshake); err != nil {
		t.Fatalf("invalid handshake payload: %v", err)
	}
	if handshake.Sid == "" {
		t.Fatal("handshake is missing the session id")
	}
	if handshake.PingInterval != 25000 || handshake.PingTimeout != 20000 {
		t.Fatalf("unexpected heartbeat parameters: %+v", handshake)
	}
	if handshake.MaxPayload != 1e6 {
		t.Fatalf("unexpected maxPayload: %d", handshake.MaxPayload)
	}
}

func TestAttachAndEmit(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	received := make(chan []any, 1)
	io.On("connection", func(args ...any) {
		socket := args[0].(*Socket)
		socket.On("hello", func(args ...any) {
			received <- args
		})
	})

	socket := connect(t, io, ch, "/")

	// the attach is acknowledged with a CONNECT carrying the socket id
	frame := ch.waitFrame(t, `^40\{"sid":"`)
	if !strings.Contains(frame, string(socket.Id())) {
		t.Fatalf("CONNECT reply %q does not carry the socket id %q", frame, socket.Id())
	}

	// every open socket sits in its self-room
	if !socket.Rooms().Has(Room(socket.Id())) {
		t.Fatal("socket is missing its self-room")
	}
	adapter := io.Of("/", nil).Adapter()
	if ids, ok := adapter.Rooms().Load(Room(socket.Id())); !ok || !ids.Has(socket.Id()) {
		t.Fatal("adapter does not index the self-room")
	}

	ch.pushText(`42["hello","world"]`)
	select {
	case args := <-received:
		if len(args) != 1 || args[0] != "world" {
			t.Fatalf("unexpected event args: %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched")
	}
}

func TestInboundEventWithAck(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	io.On("connection", func(args ...any) {
		socket := args[0].(*Socket)
		socket.On("add", func(args ...any) {
			ack := args[len(args)-1].(Ack)
			a := args[0].(float64)
			b := args[1].(float64)
			ack(a + b)
			// a second invocation must be a no-op on the wire
			ack(99)
		})
	})

	connect(t, io, ch, "/")
	ch.pushText(`4217["add",2,3]`)

	ch.waitFrame(t, `^4317\[5\]$`)
	time.Sleep(20 * time.Millisecond)
	count := 0
	for _, frame := range ch.textFrames() {
		if strings.HasPrefix(frame, "4317") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one ACK frame, got %d", count)
	}
}

func TestOutboundEmitWithAck(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	socket := connect(t, io, ch, "/")

	received := make(chan []any, 1)
	if err := socket.Emit("ping", func(args ...any) {
		received <- args
	}); err != nil {
		t.Fatal(err)
	}

	frame := ch.waitFrame(t, `^42\d+\["ping"\]$`)
	id := regexp.MustCompile(`^42(\d+)`).FindStringSubmatch(frame)[1]

	ch.pushText(`43` + id + `["pong"]`)
	select {
	case args := <-received:
		if len(args) != 1 || args[0] != "pong" {
			t.Fatalf("unexpected ack args: %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack callback never fired")
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	opts := DefaultServerOptions()
	opts.SetPingInterval(50 * time.Millisecond)
	opts.SetPingTimeout(40 * time.Millisecond)
	io := newTestServer(opts)
	ch := newFakeChannel()

	disconnected := make(chan any, 1)
	io.On("connection", func(args ...any) {
		socket := args[0].(*Socket)
		socket.On("disconnect", func(args ...any) {
			disconnected <- args[0]
		})
	})

	socket := connect(t, io, ch, "/")
	socket.Join("r1")

	ch.waitFrame(t, `^2$`)
	if reason := ch.waitClosed(t); reason != ReasonPingTimeout {
		t.Fatalf("expected close reason %q, got %q", ReasonPingTimeout, reason)
	}

	select {
	case reason := <-disconnected:
		if reason != ReasonPingTimeout {
			t.Fatalf("expected disconnect reason %q, got %v", ReasonPingTimeout, reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("socket never saw the disconnect")
	}

	adapter := io.Of("/", nil).Adapter()
	waitFor(t, "room index cleanup", func() bool {
		_, inRoom := adapter.Rooms().Load("r1")
		_, inSelf := adapter.Rooms().Load(Room(socket.Id()))
		return !inRoom && !inSelf
	})
}

func TestHeartbeatPongKeepsConnectionAlive(t *testing.T) {
	opts := DefaultServerOptions()
	opts.SetPingInterval(30 * time.Millisecond)
	opts.SetPingTimeout(25 * time.Millisecond)
	io := newTestServer(opts)
	ch := newFakeChannel()

	connect(t, io, ch, "/")

	deadline := time.Now().Add(200 * time.Millisecond)
	seen := 0
	for time.Now().Before(deadline) {
		pings := 0
		for _, frame := range ch.textFrames() {
			if frame == "2" {
				pings++
			}
		}
		if pings > seen {
			seen = pings
			ch.pushText("3")
		}
		if ch.isClosed() {
			t.Fatal("connection was closed despite timely pongs")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if seen < 2 {
		t.Fatalf("expected several pings, saw %d", seen)
	}
}

func TestConnectTimeout(t *testing.T) {
	opts := DefaultServerOptions()
	opts.SetConnectTimeout(30 * time.Millisecond)
	io := newTestServer(opts)
	ch := newFakeChannel()

	if _, err := io.Accept(ch, nil); err != nil {
		t.Fatal(err)
	}
	ch.waitClosed(t)
}

func TestMiddlewareRejection(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	io.Of("/admin", nil).Use(func(socket *Socket, next func(*ExtendedError)) {
		next(NewExtendedError("unauthorized", nil))
	})

	if _, err := io.Accept(ch, nil); err != nil {
		t.Fatal(err)
	}
	ch.waitFrame(t, `^0\{`)
	ch.pushText("40/admin,")

	frame := ch.waitFrame(t, `^44/admin,\{`)
	if !strings.Contains(frame, `"message":"unauthorized"`) {
		t.Fatalf("CONNECT_ERROR payload misses the message: %q", frame)
	}

	// the socket was never attached and the channel stays open
	if io.Of("/admin", nil).Sockets().Len() != 0 {
		t.Fatal("socket was attached despite the rejection")
	}
	if io.Of("/admin", nil).Adapter().Sids().Len() != 0 {
		t.Fatal("adapter tracks a rejected socket")
	}
	if ch.isClosed() {
		t.Fatal("channel was closed by a namespace-level rejection")
	}

	// other namespaces remain reachable
	ch.pushText("40")
	ch.waitFrame(t, `^40\{"sid":"`)
}

func TestClientNamespaceDisconnect(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	disconnected := make(chan any, 1)
	io.On("connection", func(args ...any) {
		socket := args[0].(*Socket)
		socket.On("disconnect", func(args ...any) {
			disconnected <- args[0]
		})
	})

	socket := connect(t, io, ch, "/")
	socket.Join("r1")
	ch.pushText("41")

	select {
	case reason := <-disconnected:
		if reason != ReasonClientNamespaceDisconnect {
			t.Fatalf("unexpected reason %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never fired")
	}

	waitFor(t, "namespace cleanup", func() bool {
		return io.Of("/", nil).Sockets().Len() == 0
	})
	if ch.isClosed() {
		t.Fatal("a namespace disconnect must not close the channel")
	}
}

func TestReservedEventInboundIsFatal(t *testing.T) {
	for _, event := range []string{"disconnect", "newListener"} {
		io := newTestServer(nil)
		ch := newFakeChannel()
		connect(t, io, ch, "/")

		ch.pushText(`42["` + event + `"]`)
		if reason := ch.waitClosed(t); reason != ReasonParseError {
			t.Fatalf("event %q: expected close reason %q, got %q", event, ReasonParseError, reason)
		}
	}
}

func TestReservedEventOutboundRejected(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()
	socket := connect(t, io, ch, "/")

	if err := socket.Emit("disconnect"); err == nil {
		t.Fatal("expected emitting a reserved event to fail")
	}
	if err := io.Of("/", nil).Emit("connect_error"); err == nil {
		t.Fatal("expected broadcasting a reserved event to fail")
	}
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()
	connect(t, io, ch, "/")

	ch.pushText("x")
	if reason := ch.waitClosed(t); reason != ReasonParseError {
		t.Fatalf("expected close reason %q, got %q", ReasonParseError, reason)
	}
}

func TestUnexpectedBinaryFrameClosesConnection(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()
	connect(t, io, ch, "/")

	ch.pushBinary([]byte{0x01})
	if reason := ch.waitClosed(t); reason != ReasonParseError {
		t.Fatalf("expected close reason %q, got %q", ReasonParseError, reason)
	}
}

func TestBinaryEventRoundTrip(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	received := make(chan []any, 1)
	io.On("connection", func(args ...any) {
		socket := args[0].(*Socket)
		socket.On("frame", func(args ...any) {
			received <- args
		})
	})

	socket := connect(t, io, ch, "/")

	// outbound: one placeholder text frame followed by the raw bytes
	if err := socket.Emit("frame", []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	ch.waitFrame(t, `^451-\["frame",\{"_placeholder":true,"num":0\}\]$`)
	waitFor(t, "binary attachment", func() bool {
		return len(ch.binaryFrames()) == 1
	})
	attachment := ch.binaryFrames()[0]
	if len(attachment) != 2 || attachment[0] != 0x01 || attachment[1] != 0x02 {
		t.Fatalf("attachment bytes mangled: %v", attachment)
	}

	// inbound: the attachments fill the placeholders back in
	ch.pushText(`451-["frame",{"_placeholder":true,"num":0}]`)
	ch.pushBinary([]byte{0x0a, 0x0b})
	select {
	case args := <-received:
		if len(args) != 1 {
			t.Fatalf("unexpected args: %v", args)
		}
		buffer, ok := args[0].(types.BufferInterface)
		if !ok {
			t.Fatalf("expected a buffer, got %T", args[0])
		}
		got := buffer.Bytes()
		if len(got) != 2 || got[0] != 0x0a || got[1] != 0x0b {
			t.Fatalf("attachment bytes mangled: %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("binary event was not dispatched")
	}
}

func TestMultipleNamespacesOverOneChannel(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	var mu sync.Mutex
	ids := map[string]SocketId{}
	track := func(nsp string) {
		io.Of(nsp, nil).On("connection", func(args ...any) {
			socket := args[0].(*Socket)
			mu.Lock()
			ids[nsp] = socket.Id()
			mu.Unlock()
		})
	}
	track("/")
	track("/chat")

	if _, err := io.Accept(ch, nil); err != nil {
		t.Fatal(err)
	}
	ch.waitFrame(t, `^0\{`)
	ch.pushText("40")
	ch.pushText("40/chat,")

	waitFor(t, "both namespaces to attach", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if ids["/"] == ids["/chat"] {
		t.Fatal("each namespace attachment must get its own socket id")
	}
}

func TestListenerPanicDoesNotKillConnection(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	received := make(chan struct{}, 1)
	io.On("connection", func(args ...any) {
		socket := args[0].(*Socket)
		socket.On("boom", func(...any) {
			panic("listener bug")
		})
		socket.On("after", func(...any) {
			received <- struct{}{}
		})
	})

	connect(t, io, ch, "/")
	ch.pushText(`42["boom"]`)
	ch.pushText(`42["after"]`)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive a panicking listener")
	}
	if ch.isClosed() {
		t.Fatal("channel was closed by an application error")
	}
}

func TestEventForUnattachedNamespaceIsDropped(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	received := make(chan []any, 1)
	io.On("connection", func(args ...any) {
		socket := args[0].(*Socket)
		socket.On("hello", func(args ...any) {
			received <- args
		})
	})

	if _, err := io.Accept(ch, nil); err != nil {
		t.Fatal(err)
	}
	ch.waitFrame(t, `^0\{`)

	// an event before any CONNECT must be logged and dropped, not treated
	// as a protocol violation
	ch.pushText(`42["early"]`)
	time.Sleep(20 * time.Millisecond)
	if ch.isClosed() {
		t.Fatal("an event for an unattached namespace closed the connection")
	}

	// same for a namespace whose attach was rejected
	io.Of("/vault", nil).Use(func(socket *Socket, next func(*ExtendedError)) {
		next(NewExtendedError("unauthorized", nil))
	})
	ch.pushText("40/vault,")
	ch.waitFrame(t, `^44/vault,\{`)
	ch.pushText(`42/vault,["sneak"]`)
	time.Sleep(20 * time.Millisecond)
	if ch.isClosed() {
		t.Fatal("an event for a rejected namespace closed the connection")
	}

	// the connection is still fully usable afterwards
	ch.pushText("40")
	ch.waitFrame(t, `^40\{"sid":"`)
	ch.pushText(`42["hello","world"]`)
	select {
	case args := <-received:
		if len(args) != 1 || args[0] != "world" {
			t.Fatalf("unexpected event args: %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched after the late attach")
	}
}

func TestAckForUnattachedNamespaceIsFatal(t *testing.T) {
	io := newTestServer(nil)
	ch := newFakeChannel()

	if _, err := io.Accept(ch, nil); err != nil {
		t.Fatal(err)
	}
	ch.waitFrame(t, `^0\{`)

	ch.pushText(`430["orphan"]`)
	if reason := ch.waitClosed(t); reason != ReasonParseError {
		t.Fatalf("expected close reason %q, got %q", ReasonParseError, reason)
	}
}
