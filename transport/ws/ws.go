// Package ws adapts a WebSocket connection to the socket.MessageChannel
// contract. It is the reference transport: the core never imports it, and
// anything able to hand frames back and forth can stand in for it.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/socket"
)

var ws_log = log.NewLog("socket.io:transport-ws")

// closeWriteTimeout bounds how long the close handshake may hold the
// write lock.
const closeWriteTimeout = 500 * time.Millisecond

// Channel wraps a *websocket.Conn as a socket.MessageChannel. Reads and
// writes must each come from a single goroutine, which matches how a
// connection drives its channel.
type Channel struct {
	conn *websocket.Conn

	write_mu  sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	onClose    []func(string)
	onClose_mu sync.Mutex
	fired      bool
}

func NewChannel(conn *websocket.Conn) *Channel {
	return &Channel{
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// Read returns the next frame. Control frames (ping/pong/close) are
// handled by the underlying library and never surface here.
func (c *Channel) Read() (frame []byte, isBinary bool, err error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		c.fireClose(closeReason(err))
		return nil, false, err
	}
	return data, messageType == websocket.BinaryMessage, nil
}

// Write sends one frame. The websocket write buffer absorbs bursts; no
// write deadline is set, so a blocked peer blocks the call. ErrWouldBlock
// is never returned.
func (c *Channel) Write(frame []byte, isBinary bool) error {
	c.write_mu.Lock()
	defer c.write_mu.Unlock()

	select {
	case <-c.closed:
		return socket.ErrTransportClose
	default:
	}

	messageType := websocket.TextMessage
	if isBinary {
		messageType = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(messageType, frame)
}

// Close performs the closing handshake and tears the connection down.
func (c *Channel) Close(code int, reason string) error {
	var result error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.write_mu.Lock()
		message := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout)); err != nil {
			result = multierror.Append(result, err)
		}
		c.write_mu.Unlock()

		if err := c.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.fireClose(reason)
	})
	return result
}

func (c *Channel) RemoteAddress() string {
	return c.conn.RemoteAddr().String()
}

func (c *Channel) LocalAddress() string {
	return c.conn.LocalAddr().String()
}

// OnClose registers a callback fired exactly once when the channel dies,
// whichever side initiated it.
func (c *Channel) OnClose(fn func(reason string)) {
	c.onClose_mu.Lock()
	defer c.onClose_mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

func (c *Channel) fireClose(reason string) {
	c.onClose_mu.Lock()
	if c.fired {
		c.onClose_mu.Unlock()
		return
	}
	c.fired = true
	callbacks := c.onClose
	c.onClose_mu.Unlock()

	for _, fn := range callbacks {
		fn(reason)
	}
}

func closeReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return socket.ReasonTransportClose
	}
	return socket.ReasonTransportError
}

// Handler upgrades HTTP requests to WebSocket connections and hands them
// to the server. Mount it on the Socket.IO endpoint:
//
//	io := socket.NewServer(nil)
//	http.Handle("/socket.io/", ws.NewHandler(io))
type Handler struct {
	io       *socket.Server
	upgrader *websocket.Upgrader
}

func NewHandler(io *socket.Server) *Handler {
	return &Handler{
		io: io,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			// the handshake carries no cookies or credentials; origin
			// checks belong to the application in front of this handler
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws_log.Debug("upgrade failed: %v", err)
		return
	}

	if maxPayload := h.io.Opts().MaxPayload(); maxPayload > 0 {
		conn.SetReadLimit(maxPayload)
	}
	conn.SetCompressionLevel(1)

	meta := &socket.ConnectionMeta{
		Headers: r.Header,
		Query:   r.URL.Query(),
		Url:     r.URL.RequestURI(),
		Secure:  r.TLS != nil,
	}
	if _, err := h.io.Accept(NewChannel(conn), meta); err != nil {
		ws_log.Debug("connection rejected: %v", err)
	}
}
