package socket

import (
	"github.com/pelicanio/socketio/pkg/events"
)

// Wraps an `EventEmitter` so that event names are passed as plain strings.
// It takes no type parameters and does not check the types of event
// arguments.
type StrictEventEmitter struct {
	events.EventEmitter
}

func NewStrictEventEmitter() *StrictEventEmitter {
	return &StrictEventEmitter{EventEmitter: events.NewEventEmitter()}
}

// Adds the `listener` function as an event listener for `ev`.
func (s *StrictEventEmitter) On(ev string, listeners ...events.Listener) error {
	return s.EventEmitter.On(events.EventName(ev), listeners...)
}

// Adds a one-time `listener` function as an event listener for `ev`.

func (s *StrictEventEmitter) Once(ev string, listeners ...events.Listener) error {
	return s.EventEmitter.Once(events.EventName(ev), listeners...)
}

// Emits an event.
func (s *StrictEventEmitter) Emit(ev string, args ...any) {
	s.EventEmitter.Emit(events.EventName(ev), args...)
}

// Emits a reserved event.
//
// This method is exported and behaves exactly like Emit; nothing restricts
// who may call it.
func (s *StrictEventEmitter) EmitReserved(ev string, args ...any) {
	s.EventEmitter.Emit(events.EventName(ev), args...)
}

// Emits an event.
//
// This method is exported and behaves exactly like Emit.
func (s *StrictEventEmitter) EmitUntyped(ev string, args ...any) {
	s.EventEmitter.Emit(events.EventName(ev), args...)
}

// Returns the listeners listening to an event.
func (s *StrictEventEmitter) Listeners(ev string) []events.Listener {
	return s.EventEmitter.Listeners(events.EventName(ev))
}
