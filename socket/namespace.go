package socket

import (
	"fmt"
	"sync"
	"time"

	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
)

var (
	namespace_log = log.NewLog("socket.io:namespace")

	NAMESPACE_RESERVED_EVENTS = types.NewSet("connect", "connection", "new_namespace")
)

// A Namespace is a communication channel that allows you to split the logic
// of your application over a single shared connection.
//
// Each namespace has its own:
//
// - event handlers
//
//	io.Of("/orders", nil).On("connection", func(args ...any) {
//		socket := args[0].(*socket.Socket)
//		socket.On("order:list", func(...any) {})
//		socket.On("order:create", func(...any) {})
//	})
//
// - rooms
//
//	orderNamespace := io.Of("/orders", nil)
//
//	orderNamespace.On("connection", func(args ...any) {
//		socket := args[0].(*socket.Socket)
//		socket.Join("room1")
//		orderNamespace.To("room1").Emit("hello")
//	})
//
// - middlewares
//
//	orderNamespace := io.Of("/orders", nil)
//
//	orderNamespace.Use(func(socket *socket.Socket, next func(*socket.ExtendedError)) {
//		// ensure the socket has access to the "orders" namespace
//		next(nil)
//	})
type Namespace struct {
	*StrictEventEmitter

	name    string
	sockets *types.Map[SocketId, *Socket]
	adapter Adapter
	server  *Server
	_fns    []func(*Socket, func(*ExtendedError))

	_fns_mu sync.RWMutex

	_remove func(socket *Socket)
}

func (n *Namespace) Sockets() *types.Map[SocketId, *Socket] {
	return n.sockets
}

func (n *Namespace) Server() *Server {
	return n.server
}

func (n *Namespace) Adapter() Adapter {
	return n.adapter
}

func (n *Namespace) Name() string {
	return n.name
}

func (n *Namespace) EventEmitter() *StrictEventEmitter {
	return n.StrictEventEmitter
}

func NewNamespace(server *Server, name string) *Namespace {
	n := &Namespace{}
	n.StrictEventEmitter = NewStrictEventEmitter()
	n.sockets = &types.Map[SocketId, *Socket]{}
	n._fns = []func(*Socket, func(*ExtendedError)){}
	n.server = server
	n.name = name
	n._remove = n.namespace_remove
	n._initAdapter()

	return n
}

// Initializes the Adapter for this namespace.
func (n *Namespace) _initAdapter() {
	n.adapter = n.server.Opts().Adapter().New(n)
	n.adapter.Init()
}

// Registers a middleware, which is a function that gets executed for every
// incoming Socket.
//
//	myNamespace := io.Of("/my-namespace", nil)
//
//	myNamespace.Use(func(socket *socket.Socket, next func(*socket.ExtendedError)) {
//		// ...
//		next(nil)
//	})
func (n *Namespace) Use(fn func(*Socket, func(*ExtendedError))) NamespaceInterface {
	n._fns_mu.Lock()
	defer n._fns_mu.Unlock()

	n._fns = append(n._fns, fn)
	return n
}

// Executes the middleware chain for an incoming client, left to right.
// The first next(err) aborts the chain with that error.
func (n *Namespace) run(socket *Socket, fn func(err *ExtendedError)) {
	n._fns_mu.RLock()
	fns := make([]func(*Socket, func(*ExtendedError)), len(n._fns))
	copy(fns, n._fns)
	n._fns_mu.RUnlock()
	if length := len(fns); length > 0 {
		var run func(i int)
		run = func(i int) {
			fns[i](socket, func(err *ExtendedError) {
				// upon error, short-circuit
				if err != nil {
					go fn(err)
					return
				}
				// if no middleware left, summon callback
				if i >= length-1 {
					go fn(nil)
					return
				}
				// go on to next
				run(i + 1)
			})
		}
		run(0)
	} else {
		go fn(nil)
	}
}

// Targets a room when emitting.
//
//	myNamespace := io.Of("/my-namespace", nil)
//
//	// the “foo” event will be broadcast to all connected clients in the “room-101” room
//	myNamespace.To("room-101").Emit("foo", "bar")
//
//	// with multiple chained calls
//	myNamespace.To("room-101").To("room-102").Emit("foo", "bar")
func (n *Namespace) To(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).To(room...)
}

// Targets a room when emitting.
//
//	// disconnect all clients in the "room-101" room
//	myNamespace.In("room-101").DisconnectSockets(false)
func (n *Namespace) In(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).In(room...)
}

// Excludes a room when emitting.
//
//	// the "foo" event will be broadcast to all connected clients, except the ones that are in the "room-101" room
//	myNamespace.Except("room-101").Emit("foo", "bar")
func (n *Namespace) Except(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Except(room...)
}

// Excludes individual sockets when emitting.
func (n *Namespace) ExceptSocket(sid ...SocketId) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).ExceptSocket(sid...)
}

// Add attaches a new client: the middleware chain runs against the socket
// candidate, and only on success is the socket tracked and announced.
func (n *Namespace) Add(client *Client, auth any, fn func(*Socket)) {
	namespace_log.Debug("adding socket to nsp %s", n.name)
	socket := NewSocket(n, client, auth)
	n.run(socket, func(err *ExtendedError) {
		if client.readyState() != stateOpen {
			namespace_log.Debug("next called after client was closed - ignoring socket")
			socket._cleanup()
			return
		}
		if err != nil {
			namespace_log.Debug("middleware error, sending CONNECT_ERROR packet to the client")
			socket._cleanup()
			socket._error(map[string]any{
				"message": err.Error(),
				"data":    err.Data(),
			})
			return
		}

		n._doConnect(socket, fn)
	})
}

func (n *Namespace) _doConnect(socket *Socket, fn func(*Socket)) {
	// track socket
	n.sockets.Store(socket.Id(), socket)
	// it's paramount that the internal `onconnect` logic
	// fires before user-set events to prevent state order
	// violations (such as a disconnection before the connection
	// logic is complete)
	socket._onconnect()
	if fn != nil {
		fn(socket)
	}

	// fire user-set events
	n.EmitReserved("connect", socket)
	n.EmitReserved("connection", socket)
}

// Remove detaches a socket. Called by each Socket on close.
func (n *Namespace) Remove(socket *Socket) {
	n._remove(socket)
}

func (n *Namespace) namespace_remove(socket *Socket) {
	if _, ok := n.sockets.LoadAndDelete(socket.Id()); !ok {
		namespace_log.Debug("ignoring remove for %s", socket.Id())
	}
}

// Emits to all clients.
//
//	myNamespace := io.Of("/my-namespace", nil)
//
//	// the “foo” event will be broadcast to all connected clients
//	myNamespace.Emit("foo", "bar")
//
//	// with an acknowledgement expected from all connected clients
//	myNamespace.Timeout(1000 * time.Millisecond).Emit("some-event", func(err error, args []any) {
//		if err != nil {
//			// some clients did not acknowledge the event in the given delay
//		} else {
//			fmt.Println(args) // one response per client
//		}
//	})
func (n *Namespace) Emit(ev string, args ...any) error {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Emit(ev, args...)
}

// Emits an event and waits for an acknowledgement from all clients.
//
//	myNamespace.Timeout(1000 * time.Millisecond).EmitWithAck("some-event")(func(args []any, err error) {
//		if err == nil {
//			fmt.Println(args) // one response per client
//		}
//	})
func (n *Namespace) EmitWithAck(ev string, args ...any) func(func([]any, error)) {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).EmitWithAck(ev, args...)
}

// Sends a `message` event to all clients.
//
// This method mimics the WebSocket.send() method.
func (n *Namespace) Send(args ...any) NamespaceInterface {
	n.Emit("message", args...)
	return n
}

// Sends a `message` event to all clients. Alias of Send.
func (n *Namespace) Write(args ...any) NamespaceInterface {
	n.Emit("message", args...)
	return n
}

// Emit a packet to the other Socket.IO servers of the cluster. The
// in-memory adapter has no cluster, so this only succeeds once a
// cluster-capable adapter is plugged in.
func (n *Namespace) ServerSideEmit(ev string, args ...any) error {
	if NAMESPACE_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf(`"%s" is a reserved event name`, ev)
	}
	return n.adapter.ServerSideEmit(ev, args...)
}

// Called when a packet is received from another Socket.IO server.
func (n *Namespace) OnServerSideEmit(ev string, args ...any) {
	n.EmitUntyped(ev, args...)
}

// Gets a list of socket ids.
//
// Deprecated: this method will be removed in the next major release, please use *Namespace.FetchSockets instead.
func (n *Namespace) AllSockets() (*types.Set[SocketId], error) {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).AllSockets()
}

// Sets the compress flag.
//
//	io.Compress(false).Emit("hello")
func (n *Namespace) Compress(compress bool) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Compress(compress)
}

// Sets a modifier for a subsequent event emission that the event data may
// be lost if the client's connection is saturated.
//
//	io.Volatile().Emit("hello") // the clients may or may not receive it
func (n *Namespace) Volatile() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Volatile()
}

// Sets a modifier for a subsequent event emission that the event data will
// only be broadcast to the current node.
func (n *Namespace) Local() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Local()
}

// Adds a timeout for the next operation.
//
//	io.Timeout(1000 * time.Millisecond).Emit("some-event", func(err error, args []any) {
//		// ...
//	})
func (n *Namespace) Timeout(timeout time.Duration) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Timeout(timeout)
}

// Returns the matching socket instances.
//
//	sockets, _ := myNamespace.FetchSockets()
//
//	// return all Socket instances in the "room1" room
//	sockets, _ := myNamespace.In("room1").FetchSockets()
func (n *Namespace) FetchSockets() ([]*RemoteSocket, error) {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).FetchSockets()
}

// Makes the matching socket instances join the specified rooms.
//
//	// make all socket instances join the "room1" room
//	myNamespace.SocketsJoin("room1")
//
//	// make all socket instances in the "room1" room join the "room2" and "room3" rooms
//	myNamespace.In("room1").SocketsJoin([]Room{"room2", "room3"}...)
func (n *Namespace) SocketsJoin(room ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil, nil).SocketsJoin(room...)
}

// Makes the matching socket instances leave the specified rooms.
//
//	// make all socket instances leave the "room1" room
//	myNamespace.SocketsLeave("room1")
func (n *Namespace) SocketsLeave(room ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil, nil).SocketsLeave(room...)
}

// Makes the matching socket instances disconnect.
//
//	// make all socket instances disconnect (the connections might be kept alive for other namespaces)
//	myNamespace.DisconnectSockets(false)
//
//	// make all socket instances in the "room1" room disconnect and close the underlying connections
//	myNamespace.In("room1").DisconnectSockets(true)
func (n *Namespace) DisconnectSockets(status bool) {
	NewBroadcastOperator(n.adapter, nil, nil, nil, nil).DisconnectSockets(status)
}
