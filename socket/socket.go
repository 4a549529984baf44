package socket

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pelicanio/socketio/pkg/events"
	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
	"github.com/pelicanio/socketio/pkg/utils"
	"github.com/pelicanio/socketio/parser"
)

var (
	// SOCKET_RESERVED_EVENTS is the protocol's reserved-name set; the codec
	// owns the single definition so the two enforcement points cannot drift.
	SOCKET_RESERVED_EVENTS = parser.ReservedEvents

	socket_log = log.NewLog("socket.io:socket")
)

// Handshake is the record built at connection time and exposed to
// middleware and application code through Socket.Handshake.
type Handshake struct {
	Headers map[string][]string
	Time    string
	Address string
	Secure  bool
	Issued  int64
	Url     string
	Query   map[string][]string
	Auth    any
}

// DecodeAuth decodes the attach-time auth payload into out, which must be
// a pointer to a struct or a map. Convenient in middlewares that expect a
// typed credential object.
func (h *Handshake) DecodeAuth(out any) error {
	return mapstructure.Decode(h.Auth, out)
}

type Socket struct {
	*StrictEventEmitter

	nsp       *Namespace
	client    *Client
	id        SocketId
	handshake *Handshake

	// Additional information that can be attached to the Socket instance and which will be used in the fetchSockets method
	data    any
	data_mu sync.RWMutex

	connected    bool
	connected_mu sync.RWMutex
	canJoin      bool
	canJoin_mu   sync.RWMutex

	server                *Server
	adapter               Adapter
	acks                  *AckRegistry
	fns                   []func([]any, func(error))
	flags                 *BroadcastFlags
	_anyListeners         *types.Slice[events.Listener]
	_anyOutgoingListeners *types.Slice[events.Listener]

	flags_mu sync.RWMutex
	fns_mu   sync.RWMutex
}

func (s *Socket) Nsp() *Namespace {
	return s.nsp
}

func (s *Socket) Id() SocketId {
	return s.id
}

func (s *Socket) Client() *Client {
	return s.client
}

func (s *Socket) Acks() *AckRegistry {
	return s.acks
}

func (s *Socket) Handshake() *Handshake {
	return s.handshake
}

func (s *Socket) Connected() bool {
	s.connected_mu.RLock()
	defer s.connected_mu.RUnlock()

	return s.connected
}

func (s *Socket) Data() any {
	s.data_mu.RLock()
	defer s.data_mu.RUnlock()

	return s.data
}

func (s *Socket) SetData(data any) {
	s.data_mu.Lock()
	defer s.data_mu.Unlock()

	s.data = data
}

func NewSocket(nsp *Namespace, client *Client, auth any) *Socket {
	s := &Socket{}
	s.StrictEventEmitter = NewStrictEventEmitter()
	s.nsp = nsp
	s.client = client
	s.data = nil
	s.connected = false
	s.canJoin = true
	s.acks = nsp.Server().Acks()
	s.fns = []func([]any, func(error)){}
	s._anyListeners = types.NewSlice[events.Listener]()
	s._anyOutgoingListeners = types.NewSlice[events.Listener]()
	s.flags = &BroadcastFlags{}
	s.server = nsp.Server()
	s.adapter = s.nsp.Adapter()
	id, _ := utils.GenerateId()
	s.id = SocketId(id) // don't reuse the transport id, it may be sensitive information
	s.handshake = s.buildHandshake(auth)
	return s
}

// Builds the `handshake` object.
func (s *Socket) buildHandshake(auth any) *Handshake {
	meta := s.client.Meta()
	if meta == nil {
		meta = &ConnectionMeta{}
	}
	return &Handshake{
		Headers: meta.Headers,
		Time:    time.Now().Format("2006-01-02 15:04:05"),
		Address: s.Conn().RemoteAddress(),
		Secure:  meta.Secure,
		Issued:  time.Now().UnixMilli(),
		Url:     meta.Url,
		Query:   meta.Query,
		Auth:    auth,
	}
}

// Emits to this client.
func (s *Socket) Emit(ev string, args ...any) error {
	if SOCKET_RESERVED_EVENTS.Has(ev) {
		return errors.New(fmt.Sprintf(`"%s" is a reserved event name`, ev))
	}
	data := append([]any{ev}, args...)
	data_len := len(data)
	packet := &parser.Packet{
		Type: parser.EVENT,
		Data: data,
	}
	// access last argument to see if it's an ACK callback
	if fn, ok := data[data_len-1].(Ack); ok {
		id := s.acks.NextId()
		socket_log.Debug("emitting packet with ack id %d", id)
		packet.Data = data[:data_len-1]
		if err := s.registerAckCallback(id, fn); err != nil {
			return err
		}
		packet.Id = &id
	}
	s.flags_mu.Lock()
	flags := *s.flags
	s.flags = &BroadcastFlags{}
	s.flags_mu.Unlock()
	s.notifyOutgoingListeners(packet)
	return s.packet(packet, &flags)
}

func (s *Socket) registerAckCallback(id uint64, ack Ack) error {
	s.flags_mu.RLock()
	timeout := s.flags.Timeout
	s.flags_mu.RUnlock()
	if timeout == nil {
		if def := s.server.Opts().AckTimeoutDefault(); def > 0 {
			timeout = &def
		}
	}
	return s.acks.RegisterSingle(id, s.id, timeout, ack)
}

// Targets a room when broadcasting.
func (s *Socket) To(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().To(room...)
}

// Targets a room when broadcasting.
func (s *Socket) In(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().In(room...)
}

// Excludes a room when broadcasting.
func (s *Socket) Except(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().Except(room...)
}

// Sends a `message` event.
func (s *Socket) Send(args ...any) *Socket {
	s.Emit("message", args...)
	return s
}

// Sends a `message` event.
func (s *Socket) Write(args ...any) *Socket {
	s.Emit("message", args...)
	return s
}

// Writes a packet.
func (s *Socket) packet(packet *parser.Packet, opts *BroadcastFlags) error {
	packet.Nsp = s.nsp.Name()
	if opts == nil {
		opts = &BroadcastFlags{}
	}
	return s.client._packet(packet, &opts.WriteOptions)
}

// Joins a room.
func (s *Socket) Join(rooms ...Room) {
	s.canJoin_mu.Lock()
	if !s.canJoin {
		defer s.canJoin_mu.Unlock()
		return
	}
	s.canJoin_mu.Unlock()

	socket_log.Debug("join room %s", rooms)
	s.adapter.AddAll(s.id, types.NewSet(rooms...))
}

// Leaves a room.
func (s *Socket) Leave(room Room) {
	socket_log.Debug("leave room %s", room)
	s.adapter.Del(s.id, room)
}

// Leave all rooms.
func (s *Socket) leaveAll() {
	s.adapter.DelAll(s.id)
}

// Called by `Namespace` upon successful middleware execution (ie
// authorization). Socket is added to namespace map before the call to
// join, so adapters can access it.
func (s *Socket) _onconnect() {
	socket_log.Debug("socket connected - writing packet")

	s.connected_mu.Lock()
	s.connected = true
	s.connected_mu.Unlock()

	s.Join(Room(s.id))
	s.packet(&parser.Packet{
		Type: parser.CONNECT,
		Data: map[string]any{
			"sid": s.id,
		},
	}, nil)
}

// Called with each packet. Called by `Client`.
func (s *Socket) _onpacket(packet *parser.Packet) {
	socket_log.Debug("got packet %v", packet)
	switch packet.Type {
	case parser.EVENT, parser.BINARY_EVENT:
		s.onevent(packet)
	case parser.ACK, parser.BINARY_ACK:
		s.onack(packet)
	case parser.DISCONNECT:
		s.ondisconnect()
	}
}

// Called upon event packet.
func (s *Socket) onevent(packet *parser.Packet) {
	args := packet.Data.([]any)
	socket_log.Debug("emitting event %v", args)
	if nil != packet.Id {
		socket_log.Debug("attaching ack callback to event")
		args = append(args, s.ack(*packet.Id))
	}
	for _, listener := range s._anyListeners.All() {
		listener(args...)
	}
	s.dispatch(args)
}

// Produces an ack callback to emit with an event.
func (s *Socket) ack(id uint64) func(...any) {
	sent := int32(0)
	return func(args ...any) {
		// prevent double callbacks
		if atomic.CompareAndSwapInt32(&sent, 0, 1) {
			socket_log.Debug("sending ack %v", args)
			s.packet(&parser.Packet{
				Id:   &id,
				Type: parser.ACK,
				Data: args,
			}, nil)
		}
	}
}

// Called upon ack packet.
func (s *Socket) onack(packet *parser.Packet) {
	if packet.Id == nil {
		socket_log.Debug("bad ack nil")
		return
	}
	args, _ := packet.Data.([]any)
	if s.acks.Resolve(*packet.Id, s.id, args) {
		socket_log.Debug("resolved ack %d with %v", *packet.Id, args)
	} else {
		socket_log.Debug("bad ack %d", *packet.Id)
	}
}

// Called upon client disconnect packet.
func (s *Socket) ondisconnect() {
	socket_log.Debug("got disconnect packet")
	s._onclose(ReasonClientNamespaceDisconnect)
}

// Handles a client error.
func (s *Socket) _onerror(err any) {
	if s.ListenerCount("error") > 0 {
		s.EmitReserved("error", err)
	} else {
		socket_log.Debug("missing error handler on socket: %v", err)
	}
}

// Called upon closing. Called by `Client`.
func (s *Socket) _onclose(reason any) *Socket {
	if !s.Connected() {
		return s
	}

	socket_log.Debug("closing socket - reason %v", reason)
	s.EmitReserved("disconnecting", reason)
	s._cleanup()
	s.acks.Abort(s.id)
	s.nsp.Remove(s)
	s.client._remove(s)
	s.connected_mu.Lock()
	s.connected = false
	s.connected_mu.Unlock()
	s.EmitReserved("disconnect", reason)
	return nil
}

// Makes the socket leave all the rooms it was part of and prevents it from joining any other room.
func (s *Socket) _cleanup() {
	s.leaveAll()
	s.canJoin_mu.Lock()
	s.canJoin = false
	s.canJoin_mu.Unlock()
}

// Produces a CONNECT_ERROR packet.
func (s *Socket) _error(err any) {
	s.packet(&parser.Packet{
		Type: parser.CONNECT_ERROR,
		Data: err,
	}, nil)
}

// Disconnects this client.
func (s *Socket) Disconnect(status bool) *Socket {
	if !s.Connected() {
		return s
	}
	if status {
		s.client._disconnect()
	} else {
		s.packet(&parser.Packet{
			Type: parser.DISCONNECT,
		}, nil)
		s._onclose(ReasonServerNamespaceDisconnect)
	}
	return s
}

// Sets the compress flag.
func (s *Socket) Compress(compress bool) *Socket {
	s.flags_mu.Lock()
	s.flags.Compress = compress
	s.flags_mu.Unlock()
	return s
}

// Sets a modifier for a subsequent event emission that the event data may
// be lost if the client is not ready to receive messages.
func (s *Socket) Volatile() *Socket {
	s.flags_mu.Lock()
	s.flags.Volatile = true
	s.flags_mu.Unlock()
	return s
}

// Sets a modifier for a subsequent event emission that the event data will
// only be broadcast to every socket but the sender.
func (s *Socket) Broadcast() *BroadcastOperator {
	return s.newBroadcastOperator()
}

// Sets a modifier for a subsequent event emission that the event data will
// only be broadcast to the current process.
func (s *Socket) Local() *BroadcastOperator {
	return s.newBroadcastOperator().Local()
}

// Sets a modifier for a subsequent event emission that the callback will
// be called with an error when the given duration has elapsed without an
// acknowledgement from the client.
func (s *Socket) Timeout(timeout time.Duration) *Socket {
	s.flags_mu.Lock()
	s.flags.Timeout = &timeout
	s.flags_mu.Unlock()
	return s
}

// Dispatch incoming event to socket listeners. A panicking listener is
// reported on the socket's error channel, never to the connection.
func (s *Socket) dispatch(event []any) {
	socket_log.Debug("dispatching an event %v", event)
	s.run(event, func(err error) {
		if err != nil {
			s._onerror(err)
			return
		}
		if s.Connected() {
			defer func() {
				if r := recover(); r != nil {
					s._onerror(fmt.Errorf("event listener panic: %v", r))
				}
			}()
			s.EmitUntyped(event[0].(string), event[1:]...)
		} else {
			socket_log.Debug("ignore packet received after disconnection")
		}
	})
}

// Sets up socket middleware.
func (s *Socket) Use(fn func([]any, func(error))) *Socket {
	s.fns_mu.Lock()
	defer s.fns_mu.Unlock()

	s.fns = append(s.fns, fn)
	return s
}

// Executes the middleware for an incoming event.
func (s *Socket) run(event []any, fn func(err error)) {
	s.fns_mu.RLock()
	fns := append([]func([]any, func(error)){}, s.fns...)
	s.fns_mu.RUnlock()
	if length := len(fns); length > 0 {
		var run func(i int)
		run = func(i int) {
			fns[i](event, func(err error) {
				if err != nil {
					go fn(err)
					return
				}
				if i >= length-1 {
					go fn(nil)
					return
				}
				run(i + 1)
			})
		}
		run(0)
	} else {
		go fn(nil)
	}
}

// Whether the socket is currently disconnected.
func (s *Socket) Disconnected() bool {
	return !s.Connected()
}

// The underlying transport connection.
func (s *Socket) Conn() MessageChannel {
	return s.client.conn
}

func (s *Socket) Rooms() *types.Set[Room] {
	if rooms := s.adapter.SocketRooms(s.id); rooms != nil {
		return rooms
	}
	return types.NewSet[Room]()
}

// Adds a listener that will be fired when any event is received. The event
// name is passed as the first argument to the callback.
func (s *Socket) OnAny(listener events.Listener) *Socket {
	s._anyListeners.Push(listener)
	return s
}

// Same as OnAny, but the listener is added to the beginning of the listeners array.
func (s *Socket) PrependAny(listener events.Listener) *Socket {
	s._anyListeners.Unshift(listener)
	return s
}

// Removes the listener that will be fired when any event is received. A nil
// listener removes them all.
func (s *Socket) OffAny(listener events.Listener) *Socket {
	if listener == nil {
		s._anyListeners.Clear()
		return s
	}
	listenerPointer := reflect.ValueOf(listener).Pointer()
	s._anyListeners.Remove(func(l events.Listener) bool {
		return reflect.ValueOf(l).Pointer() == listenerPointer
	})
	return s
}

// Returns the listeners registered via OnAny.
func (s *Socket) ListenersAny() []events.Listener {
	return s._anyListeners.All()
}

// Adds a listener that will be fired when any event is emitted. The event
// name is passed as the first argument to the callback.
func (s *Socket) OnAnyOutgoing(listener events.Listener) *Socket {
	s._anyOutgoingListeners.Push(listener)
	return s
}

// Same as OnAnyOutgoing, but the listener is added to the beginning of the listeners array.
func (s *Socket) PrependAnyOutgoing(listener events.Listener) *Socket {
	s._anyOutgoingListeners.Unshift(listener)
	return s
}

// Removes the listener that will be fired when any event is emitted. A nil
// listener removes them all.
func (s *Socket) OffAnyOutgoing(listener events.Listener) *Socket {
	if listener == nil {
		s._anyOutgoingListeners.Clear()
		return s
	}
	listenerPointer := reflect.ValueOf(listener).Pointer()
	s._anyOutgoingListeners.Remove(func(l events.Listener) bool {
		return reflect.ValueOf(l).Pointer() == listenerPointer
	})
	return s
}

// Returns the listeners registered via OnAnyOutgoing.
func (s *Socket) ListenersAnyOutgoing() []events.Listener {
	return s._anyOutgoingListeners.All()
}

// Notify the listeners for each packet sent (emit or broadcast).
func (s *Socket) notifyOutgoingListeners(packet *parser.Packet) {
	for _, listener := range s._anyOutgoingListeners.All() {
		if args, ok := packet.Data.([]any); ok {
			listener(args...)
		} else {
			listener(packet.Data)
		}
	}
}

func (s *Socket) newBroadcastOperator() *BroadcastOperator {
	s.flags_mu.Lock()
	flags := *s.flags
	s.flags = &BroadcastFlags{}
	s.flags_mu.Unlock()
	return NewBroadcastOperator(s.adapter, nil, nil, types.NewSet(s.id), &flags)
}
