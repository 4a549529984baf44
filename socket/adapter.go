package socket

import (
	"errors"
	"sync"

	"github.com/pelicanio/socketio/parser"
	"github.com/pelicanio/socketio/pkg/events"
	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
)

var adapter_log = log.NewLog("socket.io:adapter")

type AdapterBuilder struct {
}

func (*AdapterBuilder) New(nsp NamespaceInterface) Adapter {
	return NewAdapter(nsp)
}

// adapter is the in-memory room index of a single namespace. Both maps are
// kept in lockstep: (s ∈ rooms[r]) ⇔ (r ∈ sids[s]).
type adapter struct {
	events.EventEmitter

	nsp     NamespaceInterface
	rooms   *types.Map[Room, *types.Set[SocketId]]
	sids    *types.Map[SocketId, *types.Set[Room]]
	encoder parser.Encoder

	broadcastFn   func(*parser.Packet, *BroadcastOptions)
	broadcastFnMu sync.RWMutex
}

func NewAdapter(nsp NamespaceInterface) Adapter {
	a := &adapter{
		EventEmitter: events.NewEventEmitter(),

		nsp:     nsp,
		rooms:   &types.Map[Room, *types.Set[SocketId]]{},
		sids:    &types.Map[SocketId, *types.Set[Room]]{},
		encoder: nsp.Server().Encoder(),
	}
	return a
}

func (a *adapter) Rooms() *types.Map[Room, *types.Set[SocketId]] {
	return a.rooms
}

func (a *adapter) Sids() *types.Map[SocketId, *types.Set[Room]] {
	return a.sids
}

func (a *adapter) Nsp() NamespaceInterface {
	return a.nsp
}

// To be overridden
func (a *adapter) Init() {
}

// To be overridden
func (a *adapter) Close() {
}

// Returns the number of Socket.IO servers behind this adapter; the
// in-memory adapter only ever knows about its own process.
func (a *adapter) ServerCount() int64 {
	return 1
}

// Adds a socket to a list of rooms.
func (a *adapter) AddAll(id SocketId, rooms *types.Set[Room]) {
	_rooms, _ := a.sids.LoadOrStore(id, types.NewSet[Room]())
	for _, room := range rooms.Keys() {
		_rooms.Add(room)
		ids, existed := a.rooms.LoadOrStore(room, types.NewSet[SocketId]())
		if !existed {
			a.Emit("room-created", room)
		}
		if ids.Add(id) {
			a.Emit("room-joined", room, id)
		}
	}
}

// Removes a socket from a room.
func (a *adapter) Del(id SocketId, room Room) {
	if rooms, ok := a.sids.Load(id); ok {
		rooms.Delete(room)
	}
	a._del(room, id)
}

func (a *adapter) _del(room Room, id SocketId) {
	if ids, ok := a.rooms.Load(room); ok {
		if ids.Delete(id) {
			a.Emit("room-left", room, id)
		}
		if ids.Len() == 0 {
			if _, ok := a.rooms.LoadAndDelete(room); ok {
				a.Emit("room-deleted", room)
			}
		}
	}
}

// Removes a socket from all rooms it's joined.
func (a *adapter) DelAll(id SocketId) {
	if rooms, ok := a.sids.LoadAndDelete(id); ok {
		for _, room := range rooms.Keys() {
			a._del(room, id)
		}
	}
}

// ResolveTargets takes a snapshot of the sockets a broadcast with the
// given options reaches. The snapshot is computed before any frame is
// written, so concurrent joins and leaves do not split a single broadcast.
func (a *adapter) ResolveTargets(opts *BroadcastOptions) *types.Set[SocketId] {
	if opts == nil {
		opts = &BroadcastOptions{}
	}

	except := a.computeExceptSids(opts.Except)
	if opts.ExceptSockets != nil {
		except.Add(opts.ExceptSockets.Keys()...)
	}

	targets := types.NewSet[SocketId]()
	if opts.Rooms != nil && opts.Rooms.Len() > 0 {
		for _, room := range opts.Rooms.Keys() {
			if ids, ok := a.rooms.Load(room); ok {
				for _, id := range ids.Keys() {
					if !except.Has(id) {
						targets.Add(id)
					}
				}
			}
		}
	} else {
		a.sids.Range(func(id SocketId, _ *types.Set[Room]) bool {
			if !except.Has(id) {
				targets.Add(id)
			}
			return true
		})
	}
	return targets
}

func (a *adapter) computeExceptSids(exceptRooms *types.Set[Room]) *types.Set[SocketId] {
	exceptSids := types.NewSet[SocketId]()
	if exceptRooms != nil && exceptRooms.Len() > 0 {
		for _, room := range exceptRooms.Keys() {
			if ids, ok := a.rooms.Load(room); ok {
				exceptSids.Add(ids.Keys()...)
			}
		}
	}
	return exceptSids
}

// SetBroadcast overrides the broadcast dispatch. Used by parent
// namespaces, which fan a broadcast out to each child namespace.
func (a *adapter) SetBroadcast(fn func(*parser.Packet, *BroadcastOptions)) {
	a.broadcastFnMu.Lock()
	defer a.broadcastFnMu.Unlock()
	a.broadcastFn = fn
}

// Broadcasts a packet to every socket the options select.
func (a *adapter) Broadcast(packet *parser.Packet, opts *BroadcastOptions) {
	a.broadcastFnMu.RLock()
	custom := a.broadcastFn
	a.broadcastFnMu.RUnlock()
	if custom != nil {
		custom(packet, opts)
		return
	}

	var flags *BroadcastFlags
	if opts != nil {
		flags = opts.Flags
	}
	a.BroadcastTo(a.ResolveTargets(opts), packet, flags)
}

// BroadcastTo serializes the packet once and queues the frames on each
// target's connection. Target resolution always happens per namespace:
// the packet is stamped with this adapter's namespace before encoding.
func (a *adapter) BroadcastTo(targets *types.Set[SocketId], packet *parser.Packet, flags *BroadcastFlags) {
	if flags == nil {
		flags = &BroadcastFlags{}
	}

	packet.Nsp = a.nsp.Name()
	encodedPackets := a.encoder.Encode(packet)
	adapter_log.Debug("broadcasting packet %v to %d sockets", packet, targets.Len())

	for _, id := range targets.Keys() {
		socket, ok := a.nsp.Sockets().Load(id)
		if !ok {
			continue
		}
		socket.notifyOutgoingListeners(packet)
		socket.Client().WriteFrames(encodedPackets, &flags.WriteOptions)
	}
}

// Gets a list of sockets by room.
func (a *adapter) Sockets(rooms *types.Set[Room]) *types.Set[SocketId] {
	return a.ResolveTargets(&BroadcastOptions{Rooms: rooms})
}

// Gets the list of rooms a given socket has joined.
func (a *adapter) SocketRooms(id SocketId) *types.Set[Room] {
	if rooms, ok := a.sids.Load(id); ok {
		return rooms
	}
	return nil
}

// Returns the matching socket instances.
func (a *adapter) FetchSockets(opts *BroadcastOptions) []SocketDetails {
	sockets := []SocketDetails{}
	a.apply(opts, func(socket *Socket) {
		sockets = append(sockets, socket)
	})
	return sockets
}

// Makes the matching socket instances join the specified rooms.
func (a *adapter) AddSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(socket *Socket) {
		socket.Join(rooms...)
	})
}

// Makes the matching socket instances leave the specified rooms.
func (a *adapter) DelSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(socket *Socket) {
		for _, room := range rooms {
			socket.Leave(room)
		}
	})
}

// Makes the matching socket instances disconnect.
func (a *adapter) DisconnectSockets(opts *BroadcastOptions, status bool) {
	a.apply(opts, func(socket *Socket) {
		socket.Disconnect(status)
	})
}

func (a *adapter) apply(opts *BroadcastOptions, callback func(*Socket)) {
	for _, id := range a.ResolveTargets(opts).Keys() {
		if socket, ok := a.nsp.Sockets().Load(id); ok {
			callback(socket)
		}
	}
}

// Send a packet to the other Socket.IO servers in the cluster.
func (a *adapter) ServerSideEmit(ev string, args ...any) error {
	return errors.New("this adapter does not support the ServerSideEmit() functionality")
}
