package socket

import (
	"github.com/pelicanio/socketio/parser"
	"github.com/pelicanio/socketio/pkg/events"
	"github.com/pelicanio/socketio/pkg/types"
)

// Adapter maintains the room <-> socket indices of one namespace and
// resolves broadcast targets. The indices are derived state: they can
// always be rebuilt from the set of attached sockets.
//
// An adapter emits "room-created", "room-joined", "room-left" and
// "room-deleted" events as the indices change.
type Adapter interface {
	events.EventEmitter

	Rooms() *types.Map[Room, *types.Set[SocketId]]
	Sids() *types.Map[SocketId, *types.Set[Room]]
	Nsp() NamespaceInterface

	// To be overridden by session-aware implementations
	Init()

	// To be overridden by session-aware implementations
	Close()

	// Returns the number of Socket.IO servers this adapter spans
	ServerCount() int64

	// Adds a socket to a list of rooms. Idempotent per (socket, room) pair.
	AddAll(SocketId, *types.Set[Room])

	// Removes a socket from a room. Idempotent.
	Del(SocketId, Room)

	// Removes a socket from all rooms it has joined.
	DelAll(SocketId)

	// ResolveTargets computes the set of sockets a broadcast with the
	// given options reaches: the union of the requested rooms (or every
	// attached socket when no room is given), minus the members of the
	// excluded rooms and the individually excluded sockets.
	ResolveTargets(*BroadcastOptions) *types.Set[SocketId]

	// Broadcast resolves targets and delivers the packet to each of them.
	Broadcast(*parser.Packet, *BroadcastOptions)

	// BroadcastTo delivers the packet to an already resolved target set.
	// Used when the caller has to register acknowledgement state against
	// the exact set before the first frame goes out.
	BroadcastTo(*types.Set[SocketId], *parser.Packet, *BroadcastFlags)

	// SetBroadcast overrides the broadcast dispatch, used by parent
	// namespaces to fan out to their children.
	SetBroadcast(func(*parser.Packet, *BroadcastOptions))

	// Gets a list of sockets by room.
	Sockets(*types.Set[Room]) *types.Set[SocketId]

	// Gets the list of rooms a given socket has joined.
	SocketRooms(SocketId) *types.Set[Room]

	// Returns the matching socket instances.
	FetchSockets(*BroadcastOptions) []SocketDetails

	// Makes the matching socket instances join the specified rooms.
	AddSockets(*BroadcastOptions, []Room)

	// Makes the matching socket instances leave the specified rooms.
	DelSockets(*BroadcastOptions, []Room)

	// Makes the matching socket instances disconnect.
	DisconnectSockets(*BroadcastOptions, bool)

	// ServerSideEmit is reserved for multi-process fan-out. The default
	// in-process adapter always rejects it.
	ServerSideEmit(string, ...any) error
}

// AdapterConstructor builds a fresh Adapter for a namespace. A Server
// holds one constructor and invokes it per namespace.
type AdapterConstructor interface {
	New(NamespaceInterface) Adapter
}
