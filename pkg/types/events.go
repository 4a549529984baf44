package types

import (
	"reflect"
	"sync"
)

// EventName names an emitted event.
type EventName string

// EventListener receives the arguments passed to Emit.
type EventListener func(...any)

// EventEmitter is a Node-style event registry: named events, ordered
// listeners, one-shot subscriptions.
type EventEmitter interface {
	AddListener(evt EventName, listeners ...EventListener) error
	On(evt EventName, listeners ...EventListener) error
	Once(evt EventName, listeners ...EventListener) error
	Emit(evt EventName, args ...any)
	EventNames() []EventName
	ListenerCount(evt EventName) int
	Listeners(evt EventName) []EventListener
	RemoveListener(evt EventName, listener EventListener) bool
	RemoveAllListeners(evt EventName) bool
	Clear()
	Len() int
}

// subscription ties a listener to its lifetime: one-shot subscriptions are
// pruned the moment Emit collects them.
type subscription struct {
	fn   EventListener
	once bool
}

type eventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventName][]*subscription
}

func NewEventEmitter() EventEmitter {
	return &eventEmitter{handlers: map[EventName][]*subscription{}}
}

func (e *eventEmitter) add(evt EventName, once bool, listeners []EventListener) error {
	if len(listeners) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, fn := range listeners {
		e.handlers[evt] = append(e.handlers[evt], &subscription{fn: fn, once: once})
	}
	return nil
}

func (e *eventEmitter) AddListener(evt EventName, listeners ...EventListener) error {
	return e.add(evt, false, listeners)
}

func (e *eventEmitter) On(evt EventName, listeners ...EventListener) error {
	return e.add(evt, false, listeners)
}

// Once registers listeners that fire on the next Emit only.
func (e *eventEmitter) Once(evt EventName, listeners ...EventListener) error {
	return e.add(evt, true, listeners)
}

// Emit invokes every listener registered for evt, in registration order.
// One-shot listeners are unregistered before their invocation, so a
// listener emitting the same event recursively cannot fire them twice.
func (e *eventEmitter) Emit(evt EventName, args ...any) {
	e.mu.Lock()
	subs := e.handlers[evt]
	run := make([]EventListener, 0, len(subs))
	kept := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		run = append(run, sub.fn)
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(e.handlers, evt)
	} else {
		e.handlers[evt] = kept
	}
	e.mu.Unlock()

	for _, fn := range run {
		fn(args...)
	}
}

func (e *eventEmitter) EventNames() []EventName {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]EventName, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	return names
}

func (e *eventEmitter) ListenerCount(evt EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[evt])
}

func (e *eventEmitter) Listeners(evt EventName) []EventListener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	listeners := make([]EventListener, 0, len(e.handlers[evt]))
	for _, sub := range e.handlers[evt] {
		listeners = append(listeners, sub.fn)
	}
	return listeners
}

// RemoveListener drops the first registration of listener for evt,
// matching by function identity.
func (e *eventEmitter) RemoveListener(evt EventName, listener EventListener) bool {
	target := reflect.ValueOf(listener).Pointer()

	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[evt]
	for i, sub := range subs {
		if reflect.ValueOf(sub.fn).Pointer() == target {
			e.handlers[evt] = append(subs[:i:i], subs[i+1:]...)
			if len(e.handlers[evt]) == 0 {
				delete(e.handlers, evt)
			}
			return true
		}
	}
	return false
}

func (e *eventEmitter) RemoveAllListeners(evt EventName) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[evt]; !ok {
		return false
	}
	delete(e.handlers, evt)
	return true
}

func (e *eventEmitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = map[EventName][]*subscription{}
}

// Len returns the number of event names with at least one listener.
func (e *eventEmitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
