package socket

import (
	"errors"
	"fmt"
	"time"

	"github.com/pelicanio/socketio/parser"
	"github.com/pelicanio/socketio/pkg/types"
)

// BroadcastOperator is an immutable selector + emitter: every chained call
// returns a new operator carrying an extended filter, and the terminal
// Emit resolves the target set through the Adapter.
type BroadcastOperator struct {
	adapter       Adapter
	rooms         *types.Set[Room]
	exceptRooms   *types.Set[Room]
	exceptSockets *types.Set[SocketId]
	flags         *BroadcastFlags
}

func NewBroadcastOperator(adapter Adapter, rooms *types.Set[Room], exceptRooms *types.Set[Room], exceptSockets *types.Set[SocketId], flags *BroadcastFlags) *BroadcastOperator {
	b := &BroadcastOperator{}
	b.adapter = adapter
	if rooms == nil {
		b.rooms = types.NewSet[Room]()
	} else {
		b.rooms = rooms
	}
	if exceptRooms == nil {
		b.exceptRooms = types.NewSet[Room]()
	} else {
		b.exceptRooms = exceptRooms
	}
	if exceptSockets == nil {
		b.exceptSockets = types.NewSet[SocketId]()
	} else {
		b.exceptSockets = exceptSockets
	}
	if flags == nil {
		b.flags = &BroadcastFlags{}
	} else {
		b.flags = flags
	}

	return b
}

// Targets a room when emitting.
//
//	// the “foo” event will be broadcast to all connected clients in the “room-101” room
//	io.To("room-101").Emit("foo", "bar")
//
//	// with an array of rooms (a client will be notified at most once)
//	io.To("room-101", "room-102").Emit("foo", "bar")
//
//	// with multiple chained calls
//	io.To("room-101").To("room-102").Emit("foo", "bar")
func (b *BroadcastOperator) To(room ...Room) *BroadcastOperator {
	rooms := types.NewSet(b.rooms.Keys()...)
	rooms.Add(room...)
	return NewBroadcastOperator(b.adapter, rooms, b.exceptRooms, b.exceptSockets, b.flags)
}

// Targets a room when emitting. Similar to To(), but might feel clearer in
// some cases:
//
//	// disconnect all clients in the "room-101" room
//	io.In("room-101").DisconnectSockets(false)
func (b *BroadcastOperator) In(room ...Room) *BroadcastOperator {
	return b.To(room...)
}

// Excludes a room when emitting. Alias of ExceptRoom; to exclude a single
// socket by its ID use ExceptSocket.
//
//	// the "foo" event will be broadcast to all connected clients, except the ones that are in the "room-101" room
//	io.Except("room-101").Emit("foo", "bar")
//
//	// with multiple chained calls
//	io.Except("room-101").Except("room-102").Emit("foo", "bar")
func (b *BroadcastOperator) Except(room ...Room) *BroadcastOperator {
	return b.ExceptRoom(room...)
}

// Excludes the members of a room when emitting.
func (b *BroadcastOperator) ExceptRoom(room ...Room) *BroadcastOperator {
	exceptRooms := types.NewSet(b.exceptRooms.Keys()...)
	exceptRooms.Add(room...)
	return NewBroadcastOperator(b.adapter, b.rooms, exceptRooms, b.exceptSockets, b.flags)
}

// Excludes individual sockets when emitting.
//
//	io.ExceptSocket(sender.Id()).Emit("foo", "bar")
func (b *BroadcastOperator) ExceptSocket(sid ...SocketId) *BroadcastOperator {
	exceptSockets := types.NewSet(b.exceptSockets.Keys()...)
	exceptSockets.Add(sid...)
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, exceptSockets, b.flags)
}

// Sets the compress flag.
//
//	io.Compress(false).Emit("hello")
func (b *BroadcastOperator) Compress(compress bool) *BroadcastOperator {
	flags := *b.flags
	flags.Compress = compress
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Sets a modifier for a subsequent event emission that the event data may
// be lost if the client's connection is saturated.
//
//	io.Volatile().Emit("hello") // the clients may or may not receive it
func (b *BroadcastOperator) Volatile() *BroadcastOperator {
	flags := *b.flags
	flags.Volatile = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Sets a modifier for a subsequent event emission that the event data will
// only be broadcast to the current node.
func (b *BroadcastOperator) Local() *BroadcastOperator {
	flags := *b.flags
	flags.Local = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Adds a timeout for the next operation.
//
//	io.Timeout(1000 * time.Millisecond).Emit("some-event", func(err error, args []any) {
//		if err != nil {
//			// some clients did not acknowledge the event in the given delay
//		} else {
//			fmt.Println(args) // one response per client
//		}
//	})
func (b *BroadcastOperator) Timeout(timeout time.Duration) *BroadcastOperator {
	flags := *b.flags
	flags.Timeout = &timeout
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Emits to all selected clients.
//
//	// the “foo” event will be broadcast to all connected clients
//	io.Emit("foo", "bar")
//
//	// the “foo” event will be broadcast to all connected clients in the “room-101” room
//	io.To("room-101").Emit("foo", "bar")
//
// When the last argument is a func(error, []any), an acknowledgement is
// requested from every targeted client; the callback fires exactly once,
// either with every response or with the error and the partial responses
// collected so far.
func (b *BroadcastOperator) Emit(ev string, args ...any) error {
	if SOCKET_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf(`"%s" is a reserved event name`, ev)
	}
	// set up packet object
	data := append([]any{ev}, args...)
	data_len := len(data)

	packet := &parser.Packet{
		Type: parser.EVENT,
		Data: data,
	}

	opts := &BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
		Flags:         b.flags,
	}

	ack, withAck := data[data_len-1].(func(error, []any))

	if !withAck {
		b.adapter.Broadcast(packet, opts)
		return nil
	}

	packet.Data = data[:data_len-1]

	server := b.adapter.Nsp().Server()
	registry := server.Acks()

	id := registry.NextId()
	packet.Id = &id

	timeout := b.flags.Timeout
	if timeout == nil {
		if def := server.Opts().AckTimeoutDefault(); def > 0 {
			timeout = &def
		}
	}

	// the pending entry must exist before the first frame goes out, or a
	// fast client could acknowledge into the void
	targets := b.adapter.ResolveTargets(opts)
	if err := registry.RegisterBroadcast(id, targets, timeout, ack); err != nil {
		return err
	}
	b.adapter.BroadcastTo(targets, packet, b.flags)
	return nil
}

// EmitWithAck emits and returns a function accepting the aggregate
// callback, for call sites that read better in that order.
//
//	io.Timeout(1000 * time.Millisecond).EmitWithAck("some-event")(func(args []any, err error) {
//		if err == nil {
//			fmt.Println(args) // one response per client
//		}
//	})
func (b *BroadcastOperator) EmitWithAck(ev string, args ...any) func(func([]any, error)) {
	return func(ack func([]any, error)) {
		b.Emit(ev, append(args, func(err error, responses []any) {
			ack(responses, err)
		})...)
	}
}

// Gets a list of clients.
//
// Deprecated: this method will be removed in the next major release, please use *BroadcastOperator.FetchSockets instead.
func (b *BroadcastOperator) AllSockets() (*types.Set[SocketId], error) {
	if b.adapter == nil {
		return nil, errors.New("No adapter for this namespace, are you trying to get the list of clients of a dynamic namespace?")
	}
	return b.adapter.ResolveTargets(&BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
	}), nil
}

// Returns the matching socket instances.
//
//	// return all Socket instances in the "room1" room
//	sockets, _ := io.In("room1").FetchSockets()
//
//	for _, socket := range sockets {
//		fmt.Println(socket.Id())
//		fmt.Println(socket.Rooms())
//
//		socket.Emit("hello")
//		socket.Join("room2")
//		socket.Disconnect(false)
//	}
func (b *BroadcastOperator) FetchSockets() ([]*RemoteSocket, error) {
	if b.adapter == nil {
		return nil, errors.New("No adapter for this namespace")
	}
	remoteSockets := []*RemoteSocket{}
	for _, details := range b.adapter.FetchSockets(&BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
		Flags:         b.flags,
	}) {
		remoteSockets = append(remoteSockets, NewRemoteSocket(b.adapter, details))
	}
	return remoteSockets, nil
}

// Makes the matching socket instances join the specified rooms.
//
//	// make all socket instances join the "room1" room
//	io.SocketsJoin("room1")
//
//	// make all socket instances in the "room1" room join the "room2" and "room3" rooms
//	io.In("room1").SocketsJoin([]Room{"room2", "room3"}...)
func (b *BroadcastOperator) SocketsJoin(room ...Room) {
	b.adapter.AddSockets(&BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
		Flags:         b.flags,
	}, room)
}

// Makes the matching socket instances leave the specified rooms.
//
//	// make all socket instances leave the "room1" room
//	io.SocketsLeave("room1")
func (b *BroadcastOperator) SocketsLeave(room ...Room) {
	b.adapter.DelSockets(&BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
		Flags:         b.flags,
	}, room)
}

// Makes the matching socket instances disconnect.
//
//	// make all socket instances disconnect (the connections might be kept alive for other namespaces)
//	io.DisconnectSockets(false)
//
//	// make all socket instances in the "room1" room disconnect and close the underlying connections
//	io.In("room1").DisconnectSockets(true)
func (b *BroadcastOperator) DisconnectSockets(status bool) {
	b.adapter.DisconnectSockets(&BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
		Flags:         b.flags,
	}, status)
}

// RemoteSocket is the thin view of a socket returned by FetchSockets: a
// snapshot of its identity plus an emitter targeting just that socket.
type RemoteSocket struct {
	id        SocketId
	handshake *Handshake
	rooms     *types.Set[Room]
	data      any

	operator *BroadcastOperator
}

func (r *RemoteSocket) Id() SocketId {
	return r.id
}

func (r *RemoteSocket) Handshake() *Handshake {
	return r.handshake
}

func (r *RemoteSocket) Rooms() *types.Set[Room] {
	return r.rooms
}

func (r *RemoteSocket) Data() any {
	return r.data
}

func NewRemoteSocket(adapter Adapter, details SocketDetails) *RemoteSocket {
	r := &RemoteSocket{}

	r.id = details.Id()
	r.handshake = details.Handshake()
	r.rooms = types.NewSet(details.Rooms().Keys()...)
	r.data = details.Data()
	r.operator = NewBroadcastOperator(adapter, types.NewSet(Room(r.id)), nil, nil, nil)

	return r
}

func (r *RemoteSocket) Emit(ev string, args ...any) error {
	return r.operator.Emit(ev, args...)
}

// Joins a room.
func (r *RemoteSocket) Join(room ...Room) {
	r.operator.SocketsJoin(room...)
}

// Leaves a room.
func (r *RemoteSocket) Leave(room ...Room) {
	r.operator.SocketsLeave(room...)
}

// Disconnects this client.
func (r *RemoteSocket) Disconnect(status bool) *RemoteSocket {
	r.operator.DisconnectSockets(status)
	return r
}
