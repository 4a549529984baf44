// Package events re-exports the event-emitter primitives under the name
// the rest of the module imports them by. The emitter itself lives in
// pkg/types so the container types and the codec can share it without an
// import cycle.
package events

import (
	"github.com/pelicanio/socketio/pkg/types"
)

type (
	// EventName is the name of an emitted event.
	EventName = types.EventName
	// Listener receives the arguments passed to Emit.
	Listener = types.EventListener
	// EventListener is an alias of Listener.
	EventListener = types.EventListener
	// EventEmitter is a Node-style, concurrency-safe event registry.
	EventEmitter = types.EventEmitter
)

// New returns a new, empty EventEmitter.
func New() EventEmitter {
	return types.NewEventEmitter()
}

// NewEventEmitter is an alias of New.
func NewEventEmitter() EventEmitter {
	return types.NewEventEmitter()
}
