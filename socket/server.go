package socket

import (
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/pelicanio/socketio/parser"
	"github.com/pelicanio/socketio/pkg/events"
	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
	"golang.org/x/sync/errgroup"
)

var server_log = log.NewLog("socket.io:server")

// ParentNspNameMatchFn decides whether a dynamic namespace name may be
// created for a connecting client.
type ParentNspNameMatchFn *func(string, any, func(error, bool))

// Server owns the namespaces, the acknowledgement registry and the pool of
// live connections. It has no transport of its own: each accepted
// MessageChannel is handed to Accept by whatever listens for clients.
type Server struct {
	*StrictEventEmitter

	sockets NamespaceInterface

	_parser parser.Parser
	encoder parser.Encoder

	_nsps      *types.Map[string, *Namespace]
	parentNsps *sync.Map

	clients *types.Map[string, *Client]

	acks *AckRegistry

	opts *ServerOptions
}

func NewServer(opts *ServerOptions) *Server {
	s := &Server{}
	s._nsps = &types.Map[string, *Namespace]{}
	s.parentNsps = &sync.Map{}
	s.clients = &types.Map[string, *Client]{}

	if opts == nil {
		opts = DefaultServerOptions()
	}
	s.opts = opts

	s._parser = opts.Parser()
	s.encoder = s._parser.NewEncoder()
	s.acks = NewAckRegistry(opts.MaxAckTableSize())

	s.sockets = s.Of("/", nil)
	s.StrictEventEmitter = s.sockets.EventEmitter()

	return s
}

// Sockets returns the default ("/") namespace.
func (s *Server) Sockets() NamespaceInterface {
	return s.sockets
}

func (s *Server) Opts() *ServerOptions {
	return s.opts
}

func (s *Server) Parser() parser.Parser {
	return s._parser
}

func (s *Server) Encoder() parser.Encoder {
	return s.encoder
}

// Acks returns the server-wide acknowledgement registry. The ID space is
// shared across every namespace.
func (s *Server) Acks() *AckRegistry {
	return s.acks
}

// ClientCount returns the number of live connections.
func (s *Server) ClientCount() int {
	return s.clients.Len()
}

// Accept takes ownership of a freshly opened channel and drives its
// lifecycle. meta may be nil. The channel is closed immediately when the
// server is at its connection cap.
func (s *Server) Accept(conn MessageChannel, meta *ConnectionMeta) (*Client, error) {
	if max := s.opts.MaxConnections(); max > 0 && s.clients.Len() >= max {
		server_log.Debug("rejecting connection from %s, server is full", conn.RemoteAddress())
		conn.Close(1013, "server is full")
		return nil, errors.New("connection limit reached")
	}
	client := NewClient(s, conn, meta)
	s.clients.Store(client.Id(), client)
	server_log.Debug("incoming connection with id %s", client.Id())
	return client, nil
}

func (s *Server) _removeClient(client *Client) {
	s.clients.Delete(client.Id())
}

// HasNamespace reports whether a concrete namespace exists under the name.
func (s *Server) HasNamespace(name string) bool {
	_, ok := s._nsps.Load(name)
	return ok
}

// Executes the matchers for an incoming namespace not already created on
// the server.
func (s *Server) _checkNamespace(name string, auth any, fn func(nsp *Namespace)) {
	matched := false
	s.parentNsps.Range(func(matchFn any, pnsp any) bool {
		status := false
		(*(matchFn.(ParentNspNameMatchFn)))(name, auth, func(err error, allow bool) {
			if err != nil || !allow {
				status = true
				return
			}
			if nsp, ok := s._nsps.Load(name); ok {
				// the namespace was created in the meantime
				server_log.Debug("dynamic namespace %s already exists", name)
				matched = true
				fn(nsp)
				return
			}
			namespace := pnsp.(*ParentNamespace).CreateChild(name)
			server_log.Debug("dynamic namespace %s was created", name)
			s.sockets.EmitReserved("new_namespace", namespace)
			matched = true
			fn(namespace)
		})
		return status // whether to continue traversing
	})
	if !matched {
		fn(nil)
	}
}

// Of looks up (or lazily creates) a namespace. name may be a literal
// string, a *regexp.Regexp, or a ParentNspNameMatchFn; the latter two
// declare a parent namespace whose children are created on first attach.
func (s *Server) Of(name any, fn events.Listener) NamespaceInterface {
	switch n := name.(type) {
	case ParentNspNameMatchFn:
		parentNsp := NewParentNamespace(s)
		server_log.Debug("initializing parent namespace %s", parentNsp.Name())
		s.parentNsps.Store(n, parentNsp)
		if fn != nil {
			parentNsp.On("connect", fn)
		}
		return parentNsp
	case *regexp.Regexp:
		parentNsp := NewParentNamespace(s)
		server_log.Debug("initializing parent namespace %s", parentNsp.Name())
		nfn := func(nsp string, _ any, next func(error, bool)) {
			next(nil, n.MatchString(nsp))
		}
		s.parentNsps.Store(ParentNspNameMatchFn(&nfn), parentNsp)
		if fn != nil {
			parentNsp.On("connect", fn)
		}
		return parentNsp
	}

	n, ok := name.(string)
	if ok {
		if len(n) > 0 {
			if n[0] != '/' {
				n = "/" + n
			}
		} else {
			n = "/"
		}
	} else {
		n = "/"
	}

	namespace, loaded := s._nsps.Load(n)
	if !loaded {
		server_log.Debug("initializing namespace %s", n)
		namespace = NewNamespace(s, n)
		s._nsps.Store(n, namespace)
		if n != "/" && s.sockets != nil {
			s.sockets.EmitReserved("new_namespace", namespace)
		}
	}

	if fn != nil {
		namespace.On("connect", fn)
	}
	return namespace
}

func (s *Server) _removeNamespace(name string) {
	s._nsps.Delete(name)
}

// Close disconnects every socket with the shutdown reason, closes every
// connection, and tears the adapters down. Per-namespace teardown runs
// concurrently.
func (s *Server) Close() error {
	var group errgroup.Group
	s._nsps.Range(func(_ string, nsp *Namespace) bool {
		group.Go(func() error {
			nsp.Sockets().Range(func(_ SocketId, socket *Socket) bool {
				socket._onclose(ReasonServerShutdown)
				return true
			})
			nsp.Adapter().Close()
			return nil
		})
		return true
	})
	err := group.Wait()

	s.clients.Range(func(_ string, client *Client) bool {
		client.close(ReasonServerShutdown)
		return true
	})
	return err
}

// Sets up namespace middleware on the default namespace.
func (s *Server) Use(fn func(*Socket, func(*ExtendedError))) *Server {
	s.sockets.Use(fn)
	return s
}

// Targets a room when emitting.
func (s *Server) To(room ...Room) *BroadcastOperator {
	return s.sockets.To(room...)
}

// Targets a room when emitting.
func (s *Server) In(room ...Room) *BroadcastOperator {
	return s.sockets.In(room...)
}

// Excludes a room when emitting.
func (s *Server) Except(room ...Room) *BroadcastOperator {
	return s.sockets.Except(room...)
}

// Excludes individual sockets when emitting.
func (s *Server) ExceptSocket(sid ...SocketId) *BroadcastOperator {
	return s.sockets.ExceptSocket(sid...)
}

// Emits to all clients of the default namespace.
func (s *Server) Emit(ev string, args ...any) error {
	return s.sockets.Emit(ev, args...)
}

// Sends a `message` event to all clients.
func (s *Server) Send(args ...any) *Server {
	s.sockets.Emit("message", args...)
	return s
}

// Sends a `message` event to all clients.
func (s *Server) Write(args ...any) *Server {
	s.sockets.Emit("message", args...)
	return s
}

// Emit a packet to other Socket.IO servers
func (s *Server) ServerSideEmit(ev string, args ...any) error {
	return s.sockets.ServerSideEmit(ev, args...)
}

// Gets a list of socket ids.
func (s *Server) AllSockets() (*types.Set[SocketId], error) {
	return s.sockets.AllSockets()
}

// Sets the compress flag.
func (s *Server) Compress(compress bool) *BroadcastOperator {
	return s.sockets.Compress(compress)
}

// Sets a modifier for a subsequent event emission that the event data may
// be lost if the client's connection is saturated.
func (s *Server) Volatile() *BroadcastOperator {
	return s.sockets.Volatile()
}

// Sets a modifier for a subsequent event emission that the event data will
// only be broadcast to the current node.
func (s *Server) Local() *BroadcastOperator {
	return s.sockets.Local()
}

// Adds a timeout for the next operation.
//
//	io.Timeout(1000 * time.Millisecond).Emit("some-event", func(err error, args []any) {
//		// ...
//	})
func (s *Server) Timeout(timeout time.Duration) *BroadcastOperator {
	return s.sockets.Timeout(timeout)
}

// Returns the matching socket instances.
func (s *Server) FetchSockets() ([]*RemoteSocket, error) {
	return s.sockets.FetchSockets()
}

// Makes the matching socket instances join the specified rooms.
func (s *Server) SocketsJoin(room ...Room) {
	s.sockets.SocketsJoin(room...)
}

// Makes the matching socket instances leave the specified rooms.
func (s *Server) SocketsLeave(room ...Room) {
	s.sockets.SocketsLeave(room...)
}

// Makes the matching socket instances disconnect.
func (s *Server) DisconnectSockets(status bool) {
	s.sockets.DisconnectSockets(status)
}
