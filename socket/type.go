package socket

import (
	"time"

	"github.com/pelicanio/socketio/pkg/events"
	"github.com/pelicanio/socketio/pkg/types"
)

type (
	// A public ID, sent by the server at the beginning of the session and
	// which can be used for private messaging
	SocketId string

	// Room is a label grouping sockets within a namespace for targeted
	// broadcasting
	Room string
)

// MessageChannel abstracts a single bidirectional connection carrying
// Socket.IO text/binary frames. It has no knowledge of HTTP, WebSocket
// framing, or any concrete transport; a Client is built on top of it.
type MessageChannel interface {
	// Read blocks until the next frame is available, or returns an error
	// once the channel is closed.
	Read() (frame []byte, isBinary bool, err error)

	// Write sends a frame. A nil error does not guarantee delivery past
	// local buffering. ErrWouldBlock is returned when the channel applies
	// backpressure and the caller should retry or drop.
	Write(frame []byte, isBinary bool) error

	// Close terminates the channel with the given code and reason.
	Close(code int, reason string) error

	RemoteAddress() string
	LocalAddress() string

	// OnClose registers a callback invoked exactly once when the channel
	// transitions to closed, whether initiated locally or remotely.
	OnClose(func(reason string))
}

// ConnectionMeta carries connection metadata that has no generic
// equivalent on MessageChannel (request headers, query string, the
// original URL) but that a Handshake still reports. It is supplied by
// whatever accepted the connection (an HTTP upgrade handler, a test
// harness, ...); the core never derives it itself.
type ConnectionMeta struct {
	Headers map[string][]string
	Query   map[string][]string
	Url     string
	Secure  bool
}

type WriteOptions struct {
	Compress bool `json:"compress" msgpack:"compress"`
	Volatile bool `json:"volatile" msgpack:"volatile"`
}

type BroadcastFlags struct {
	WriteOptions

	Local   bool           `json:"local" msgpack:"local"`
	Timeout *time.Duration `json:"timeout,omitempty" msgpack:"timeout,omitempty"`
}

type BroadcastOptions struct {
	Rooms         *types.Set[Room]     `json:"rooms,omitempty" msgpack:"rooms,omitempty"`
	Except        *types.Set[Room]     `json:"except,omitempty" msgpack:"except,omitempty"`
	ExceptSockets *types.Set[SocketId] `json:"exceptSockets,omitempty" msgpack:"exceptSockets,omitempty"`
	Flags         *BroadcastFlags      `json:"flags,omitempty" msgpack:"flags,omitempty"`
}

// SocketDetails is the read-only view of a socket exposed by the adapter.
type SocketDetails interface {
	Id() SocketId
	Handshake() *Handshake
	Rooms() *types.Set[Room]
	Data() any
}

type NamespaceInterface interface {
	EventEmitter() *StrictEventEmitter

	On(string, ...events.Listener) error
	Once(string, ...events.Listener) error
	EmitReserved(string, ...any)
	EmitUntyped(string, ...any)
	Listeners(string) []events.Listener

	Sockets() *types.Map[SocketId, *Socket]
	Server() *Server
	Adapter() Adapter
	Name() string
	Use(func(*Socket, func(*ExtendedError))) NamespaceInterface
	To(...Room) *BroadcastOperator
	In(...Room) *BroadcastOperator
	Except(...Room) *BroadcastOperator
	ExceptSocket(...SocketId) *BroadcastOperator
	Add(*Client, any, func(*Socket))
	Emit(string, ...any) error
	EmitWithAck(string, ...any) func(func([]any, error))
	Send(...any) NamespaceInterface
	Write(...any) NamespaceInterface
	ServerSideEmit(string, ...any) error
	AllSockets() (*types.Set[SocketId], error)
	Compress(bool) *BroadcastOperator
	Volatile() *BroadcastOperator
	Local() *BroadcastOperator
	Timeout(time.Duration) *BroadcastOperator
	FetchSockets() ([]*RemoteSocket, error)
	SocketsJoin(...Room)
	SocketsLeave(...Room)
	DisconnectSockets(bool)
	Remove(*Socket)
}
