package socket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pelicanio/socketio/parser"
	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
	"github.com/pelicanio/socketio/pkg/utils"
)

var client_log = log.NewLog("socket.io:client")

// Connection states.
const (
	stateOpening = iota
	stateOpen
	stateClosing
	stateClosed
)

// Transport-level framing. A text frame starts with a single digit that
// tells the connection layer what the frame carries; Socket.IO packets
// travel inside message frames. Binary frames carry packet attachments and
// have no prefix.
const (
	frameOpen    = '0' // handshake, server -> client
	frameClose   = '1' // orderly shutdown
	framePing    = '2' // heartbeat probe, server -> client
	framePong    = '3' // heartbeat reply, client -> server
	frameMessage = '4' // Socket.IO packet
)

// HandshakeData is the payload of the open frame sent to a client the
// moment its channel is accepted.
type HandshakeData struct {
	Sid          string   `json:"sid" msgpack:"sid"`
	Upgrades     []string `json:"upgrades" msgpack:"upgrades"`
	PingInterval int64    `json:"pingInterval" msgpack:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout" msgpack:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload" msgpack:"maxPayload"`
}

type outboundFrame struct {
	data   []byte
	binary bool
}

// Client is the per-channel connection: it owns the MessageChannel, the
// heartbeat, the codec state and the set of Sockets attached through it
// (one per namespace).
type Client struct {
	conn   MessageChannel
	meta   *ConnectionMeta
	id     string
	server *Server

	encoder parser.Encoder
	decoder parser.Decoder

	sockets *types.Map[SocketId, *Socket]
	nsps    *types.Map[string, *Socket]

	state types.Atomic[int32]

	outbound chan outboundFrame
	done     chan struct{}
	drained  chan struct{}

	closeOnce sync.Once

	connectTimeout *utils.Timer

	pingInterval     *utils.Timer
	pingTimeoutTimer *utils.Timer
	heartbeat_mu     sync.Mutex
}

// NewClient accepts a freshly opened channel: it issues the handshake,
// arms the heartbeat and starts reading frames. meta may be nil when the
// transport has no HTTP context to report.
func NewClient(server *Server, conn MessageChannel, meta *ConnectionMeta) *Client {
	c := &Client{
		conn:     conn,
		meta:     meta,
		server:   server,
		sockets:  &types.Map[SocketId, *Socket]{},
		nsps:     &types.Map[string, *Socket]{},
		outbound: make(chan outboundFrame, server.Opts().PerConnectionOutboundQueue()),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	c.state.Store(stateOpening)
	id, _ := utils.GenerateId()
	c.id = id
	c.encoder = server.Encoder()
	c.decoder = server.Parser().NewDecoder()
	c.setup()
	return c
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Conn() MessageChannel {
	return c.conn
}

func (c *Client) Meta() *ConnectionMeta {
	return c.meta
}

func (c *Client) readyState() int32 {
	return c.state.Load()
}

func (c *Client) setup() {
	c.decoder.On("decoded", c.ondecoded)
	c.conn.OnClose(func(reason string) {
		c.onclose(ReasonTransportClose)
	})

	go c.writeLoop()

	c.handshake()

	c.state.Store(stateOpen)

	c.connectTimeout = utils.SetTimeout(func() {
		if c.nsps.Len() == 0 {
			client_log.Debug("no namespace joined yet, close the client")
			c.close(ReasonTransportClose)
		} else {
			client_log.Debug("the client has already joined a namespace, nothing to do")
		}
	}, c.server.Opts().ConnectTimeout())

	opts := c.server.Opts()
	c.pingInterval = utils.SetInterval(func() {
		c.sendPing()
	}, opts.PingInterval())

	go c.readLoop()
}

// handshake writes the open frame carrying the session parameters.
func (c *Client) handshake() {
	opts := c.server.Opts()
	data, err := json.Marshal(&HandshakeData{
		Sid:          c.id,
		Upgrades:     []string{},
		PingInterval: opts.PingInterval().Milliseconds(),
		PingTimeout:  opts.PingTimeout().Milliseconds(),
		MaxPayload:   opts.MaxPayload(),
	})
	if err != nil {
		client_log.Debug("handshake marshal failed: %v", err)
		return
	}
	c.enqueue(append([]byte{frameOpen}, data...), false, false)
}

// sendPing emits a heartbeat probe and arms the liveness deadline. Any
// inbound frame clears the deadline; if nothing arrives within the ping
// timeout the connection is closed.
func (c *Client) sendPing() {
	if c.readyState() != stateOpen {
		return
	}
	c.enqueue([]byte{framePing}, false, false)

	c.heartbeat_mu.Lock()
	defer c.heartbeat_mu.Unlock()
	if c.pingTimeoutTimer == nil {
		c.pingTimeoutTimer = utils.SetTimeout(func() {
			client_log.Debug("client %s did not respond in time", c.id)
			c.close(ReasonPingTimeout)
		}, c.server.Opts().PingTimeout())
	}
}

func (c *Client) resetLiveness() {
	c.heartbeat_mu.Lock()
	defer c.heartbeat_mu.Unlock()
	if c.pingTimeoutTimer != nil {
		utils.ClearTimeout(c.pingTimeoutTimer)
		c.pingTimeoutTimer = nil
	}
}

func (c *Client) readLoop() {
	maxPayload := c.server.Opts().MaxPayload()
	for {
		data, isBinary, err := c.conn.Read()
		if err != nil {
			c.onclose(ReasonTransportClose)
			return
		}
		if maxPayload > 0 && int64(len(data)) > maxPayload {
			client_log.Debug("frame of %d bytes exceeds maxPayload", len(data))
			c.closeWithProtocolError(errors.New("frame exceeds maxPayload"))
			return
		}
		c.onframe(data, isBinary)
		if c.readyState() >= stateClosing {
			return
		}
	}
}

// onframe dispatches a single transport frame.
func (c *Client) onframe(data []byte, isBinary bool) {
	c.resetLiveness()

	if isBinary {
		// binary attachment for a pending BINARY_EVENT / BINARY_ACK
		if err := c.decoder.Add(data); err != nil {
			client_log.Debug("unexpected binary frame: %v", err)
			c.closeWithProtocolError(ErrUnexpectedAttachment)
		}
		return
	}
	if len(data) == 0 {
		c.closeWithProtocolError(ErrMalformedFrame)
		return
	}
	switch data[0] {
	case framePong:
		// liveness already reset above
	case framePing:
		// some clients probe the server; answer in kind
		c.enqueue([]byte{framePong}, false, false)
	case frameClose:
		c.onclose(ReasonTransportClose)
	case frameMessage:
		if err := c.decoder.Add(string(data[1:])); err != nil {
			client_log.Debug("invalid packet format: %v", err)
			c.closeWithProtocolError(err)
		}
	default:
		c.closeWithProtocolError(ErrUnknownType)
	}
}

// ondecoded routes a fully decoded Socket.IO packet to the socket attached
// on its namespace, or runs the attach flow for a CONNECT.
func (c *Client) ondecoded(args ...any) {
	packet, _ := args[0].(*parser.Packet)
	if packet == nil {
		return
	}

	if packet.Type == parser.EVENT || packet.Type == parser.BINARY_EVENT {
		if data, ok := packet.Data.([]any); ok && len(data) > 0 {
			if ev, ok := data[0].(string); ok && SOCKET_RESERVED_EVENTS.Has(ev) {
				client_log.Debug("reserved event %s on the inbound path", ev)
				c.closeWithProtocolError(ErrReservedEvent)
				return
			}
		}
	}

	socket, attached := c.nsps.Load(packet.Nsp)
	switch {
	case attached && packet.Type != parser.CONNECT && packet.Type != parser.CONNECT_ERROR:
		socket._onpacket(packet)
	case !attached && packet.Type == parser.CONNECT:
		c.connect(packet.Nsp, packet.Data)
	case !attached && (packet.Type == parser.EVENT || packet.Type == parser.BINARY_EVENT):
		// the event raced the attach, or the attach was rejected; not a
		// protocol violation, so the connection survives
		client_log.Debug("ignoring event for namespace %s with no attached socket", packet.Nsp)
	default:
		client_log.Debug("invalid state (packet type: %s)", packet.Type.String())
		c.close(ReasonParseError)
	}
}

// connect attaches the client to a namespace, creating it on the fly when a
// parent namespace matcher allows it.
func (c *Client) connect(name string, auth any) {
	if c.server.HasNamespace(name) {
		client_log.Debug("connecting to namespace %s", name)
		c.doConnect(name, auth)
		return
	}
	c.server._checkNamespace(name, auth, func(dynamicNsp *Namespace) {
		if dynamicNsp != nil {
			c.doConnect(name, auth)
		} else {
			client_log.Debug("creation of namespace %s was denied", name)
			c._packet(&parser.Packet{
				Type: parser.CONNECT_ERROR,
				Nsp:  name,
				Data: map[string]any{
					"message": "Invalid namespace",
				},
			}, nil)
		}
	})
}

func (c *Client) doConnect(name string, auth any) {
	nsp := c.server.Of(name, nil)
	nsp.Add(c, auth, func(socket *Socket) {
		c.sockets.Store(socket.Id(), socket)
		c.nsps.Store(nsp.Name(), socket)
		if c.connectTimeout != nil {
			utils.ClearTimeout(c.connectTimeout)
			c.connectTimeout = nil
		}
	})
}

// _disconnect closes every attached socket, then the transport.
func (c *Client) _disconnect() {
	c.sockets.Range(func(id SocketId, socket *Socket) bool {
		socket.Disconnect(false)
		c.sockets.Delete(id)
		return true
	})
	c.close(ReasonForcedServerClose)
}

// _remove forgets a socket. Called by each Socket on detach.
func (c *Client) _remove(socket *Socket) {
	if s, ok := c.sockets.LoadAndDelete(socket.Id()); ok {
		c.nsps.Delete(s.Nsp().Name())
	} else {
		client_log.Debug("ignoring remove for %s", socket.Id())
	}
}

// _packet encodes a Socket.IO packet and queues its frames.
func (c *Client) _packet(packet *parser.Packet, opts *WriteOptions) error {
	if opts == nil {
		opts = &WriteOptions{}
	}
	return c.WriteFrames(c.encoder.Encode(packet), opts)
}

// WriteFrames queues pre-encoded packet frames for delivery. The first
// buffer is the text frame (sent inside a message frame); any remaining
// buffers are binary attachments sent raw, in order.
func (c *Client) WriteFrames(encodedPackets []types.BufferInterface, opts *WriteOptions) error {
	if c.readyState() != stateOpen {
		client_log.Debug("ignoring packet write, connection is not open")
		return ErrTransportClose
	}
	for i, encoded := range encodedPackets {
		if _, isText := encoded.(*types.StringBuffer); isText && i == 0 {
			if err := c.enqueue(append([]byte{frameMessage}, encoded.Bytes()...), false, opts.Volatile); err != nil {
				return err
			}
			continue
		}
		if err := c.enqueue(encoded.Bytes(), true, opts.Volatile); err != nil {
			return err
		}
	}
	return nil
}

// enqueue places a frame on the bounded outbound queue. Volatile frames
// are dropped once the queue passes its soft limit; a non-volatile frame
// that does not fit at all is a hard overflow and tears the connection
// down.
func (c *Client) enqueue(data []byte, binary bool, volatile bool) error {
	if volatile && len(c.outbound) >= cap(c.outbound)/2 {
		client_log.Debug("volatile packet is discarded, the outbound queue is filling up")
		return nil
	}
	select {
	case c.outbound <- outboundFrame{data: data, binary: binary}:
		return nil
	case <-c.done:
		return ErrTransportClose
	default:
		if volatile {
			client_log.Debug("volatile packet is discarded, the outbound queue is full")
			return nil
		}
		client_log.Debug("outbound queue overflow, closing the connection")
		c.close(ReasonTransportError)
		return ErrWriteQueueFull
	}
}

// writeLoop is the single writer on the channel: frame order is whatever
// order enqueue accepted them in.
func (c *Client) writeLoop() {
	defer close(c.drained)
	for {
		select {
		case frame := <-c.outbound:
			if !c.write(frame) {
				return
			}
		case <-c.done:
			// drain what is already queued; the close grace is enforced by
			// the closer, which tears the channel down underneath us
			for {
				select {
				case frame := <-c.outbound:
					if !c.write(frame) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(frame outboundFrame) bool {
	for {
		err := c.conn.Write(frame.data, frame.binary)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrWouldBlock) {
			// the channel applies backpressure; the bounded queue above
			// absorbs the burst while we wait for it to become writable
			select {
			case <-c.done:
				return false
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		client_log.Debug("write failed: %v", err)
		c.onerror(err)
		return false
	}
}

// onerror reports a transport error to every attached socket, then closes.
func (c *Client) onerror(err error) {
	c.sockets.Range(func(_ SocketId, socket *Socket) bool {
		socket._onerror(err)
		return true
	})
	c.close(ReasonTransportError)
}

// closeWithProtocolError handles a fatal inbound protocol violation.
func (c *Client) closeWithProtocolError(err error) {
	client_log.Debug("protocol violation: %v", err)
	c.sockets.Range(func(_ SocketId, socket *Socket) bool {
		socket._onerror(err)
		return true
	})
	c.close(ReasonParseError)
}

// close initiates teardown from this side: the outbound queue is drained
// up to the close grace, then the channel is closed.
func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		client_log.Debug("closing client %s with reason %s", c.id, reason)

		c.state.Store(stateClosing)

		c.stopTimers()
		close(c.done)

		go func() {
			grace := time.NewTimer(c.server.Opts().CloseGrace())
			defer grace.Stop()
			select {
			case <-c.drained:
			case <-grace.C:
			}
			c.conn.Close(1000, reason)
			c.teardown(reason)
		}()
	})
}

// onclose handles teardown initiated by the peer or the transport.
func (c *Client) onclose(reason string) {
	c.closeOnce.Do(func() {
		client_log.Debug("client %s closed with reason %s", c.id, reason)

		c.state.Store(stateClosing)

		c.stopTimers()
		close(c.done)
		c.conn.Close(1000, reason)
		c.teardown(reason)
	})
}

func (c *Client) teardown(reason string) {
	c.sockets.Range(func(id SocketId, socket *Socket) bool {
		socket._onclose(reason)
		c.sockets.Delete(id)
		return true
	})
	c.decoder.Destroy()
	c.server._removeClient(c)

	c.state.Store(stateClosed)
}

func (c *Client) stopTimers() {
	if c.connectTimeout != nil {
		utils.ClearTimeout(c.connectTimeout)
		c.connectTimeout = nil
	}
	if c.pingInterval != nil {
		utils.ClearInterval(c.pingInterval)
	}
	c.resetLiveness()
}
