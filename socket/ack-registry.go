package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
	"github.com/pelicanio/socketio/pkg/utils"
)

var ack_log = log.NewLog("socket.io:ack")

// Ack is the callback attached to an emitted event. For a plain Emit the
// response arguments are passed through as-is; when a timeout is involved
// the first argument is an error (nil on success).
type Ack = func(...any)

// AckAborted fills the response slot of a broadcast target that
// disconnected before acknowledging.
type AckAborted struct {
	Sid   SocketId `json:"sid" msgpack:"sid"`
	Error string   `json:"error" msgpack:"error"`
}

// pendingAck is a registered request waiting for its acknowledgement(s).
// Singletons complete on the first matching response; broadcast entries
// aggregate one response per target socket.
type pendingAck struct {
	mu   sync.Mutex
	done bool

	single bool
	timed  bool

	// outstanding responders; for a singleton this holds the one target
	targets   *types.Set[SocketId]
	responses []any

	fn  Ack
	bfn func(error, []any)

	timer *utils.Timer
}

// AckRegistry correlates outbound emit-with-callback requests to the ACK
// packets that answer them. IDs come from a single monotonically increasing
// counter, so the ID space is shared across every namespace of a Server.
type AckRegistry struct {
	ids  uint64
	max  int
	acks *types.Map[uint64, *pendingAck]
}

func NewAckRegistry(maxTableSize int) *AckRegistry {
	return &AckRegistry{
		max:  maxTableSize,
		acks: &types.Map[uint64, *pendingAck]{},
	}
}

// NextId returns a fresh acknowledgement ID. The counter never resets
// while the registry is alive; overflow wraps modulo 2^64.
func (r *AckRegistry) NextId() uint64 {
	return atomic.AddUint64(&r.ids, 1) - 1
}

// Len returns the number of pending entries.
func (r *AckRegistry) Len() int {
	return r.acks.Len()
}

func (r *AckRegistry) full() bool {
	return r.max > 0 && r.acks.Len() >= r.max
}

// RegisterSingle stores a request expecting one response from the given
// socket. When timeout is nil the callback receives the raw response
// arguments; with a timeout it receives an error status first.
func (r *AckRegistry) RegisterSingle(id uint64, sid SocketId, timeout *time.Duration, fn Ack) error {
	if r.full() {
		return ErrAckTableFull
	}
	entry := &pendingAck{
		single:  true,
		targets: types.NewSet(sid),
		fn:      fn,
	}
	if timeout != nil {
		entry.timed = true
		entry.timer = utils.SetTimeout(func() {
			r.expire(id)
		}, *timeout)
	}
	r.acks.Store(id, entry)
	return nil
}

// RegisterBroadcast stores a request expecting one response per target
// socket. With an empty target set the callback fires immediately.
func (r *AckRegistry) RegisterBroadcast(id uint64, targets *types.Set[SocketId], timeout *time.Duration, fn func(error, []any)) error {
	if targets == nil || targets.Len() == 0 {
		fn(nil, []any{})
		return nil
	}
	if r.full() {
		return ErrAckTableFull
	}
	entry := &pendingAck{
		targets: types.NewSet(targets.Keys()...),
		bfn:     fn,
	}
	if timeout != nil {
		entry.timed = true
		entry.timer = utils.SetTimeout(func() {
			r.expire(id)
		}, *timeout)
	}
	r.acks.Store(id, entry)
	return nil
}

// Resolve feeds a response from the given socket into the pending entry.
// It reports whether the response was consumed; late and duplicate
// responses are dropped.
func (r *AckRegistry) Resolve(id uint64, from SocketId, args []any) bool {
	entry, ok := r.acks.Load(id)
	if !ok {
		ack_log.Debug("late ack %d from %s", id, from)
		return false
	}

	entry.mu.Lock()
	if entry.done || !entry.targets.Has(from) {
		entry.mu.Unlock()
		ack_log.Debug("late ack %d from %s", id, from)
		return false
	}
	entry.targets.Delete(from)

	if entry.single {
		entry.done = true
		r.discard(id, entry)
		entry.mu.Unlock()
		if entry.timed {
			entry.fn(append([]any{nil}, args...)...)
		} else {
			entry.fn(args...)
		}
		return true
	}

	// responses are reported in arrival order
	entry.responses = append(entry.responses, args...)
	if entry.targets.Len() == 0 {
		entry.done = true
		r.discard(id, entry)
		responses := entry.responses
		entry.mu.Unlock()
		entry.bfn(nil, responses)
		return true
	}
	entry.mu.Unlock()
	return true
}

// Abort completes every slot the given socket still owes a response for.
// Singletons fail with ErrAckAborted; broadcast slots are filled with an
// AckAborted record so the aggregate callback never hangs on a vanished
// socket past its deadline.
func (r *AckRegistry) Abort(sid SocketId) {
	r.acks.Range(func(id uint64, entry *pendingAck) bool {
		entry.mu.Lock()
		if entry.done || !entry.targets.Has(sid) {
			entry.mu.Unlock()
			return true
		}
		entry.targets.Delete(sid)

		if entry.single {
			entry.done = true
			r.discard(id, entry)
			entry.mu.Unlock()
			entry.fn(ErrAckAborted)
			return true
		}

		entry.responses = append(entry.responses, &AckAborted{Sid: sid, Error: "disconnected"})
		if entry.targets.Len() == 0 {
			entry.done = true
			r.discard(id, entry)
			responses := entry.responses
			entry.mu.Unlock()
			entry.bfn(nil, responses)
			return true
		}
		entry.mu.Unlock()
		return true
	})
}

// expire fires the deadline of a pending entry.
func (r *AckRegistry) expire(id uint64) {
	entry, ok := r.acks.Load(id)
	if !ok {
		return
	}
	entry.mu.Lock()
	if entry.done {
		entry.mu.Unlock()
		return
	}
	entry.done = true
	r.acks.Delete(id)
	responses := entry.responses
	entry.mu.Unlock()

	ack_log.Debug("ack %d timed out", id)
	if entry.single {
		entry.fn(ErrAckTimeout)
	} else {
		entry.bfn(ErrAckTimeout, responses)
	}
}

// discard removes a completed entry. Must be called with entry.mu held.
func (r *AckRegistry) discard(id uint64, entry *pendingAck) {
	if entry.timer != nil {
		utils.ClearTimeout(entry.timer)
	}
	r.acks.Delete(id)
}
