package types

import "sync/atomic"

// Atomic is a typed wrapper around atomic.Value. Load on a never-stored
// Atomic returns the zero value of T. Must not be copied after first use.
type Atomic[T any] struct {
	_ noCopy
	v atomic.Value
}

func (a *Atomic[T]) Load() T {
	value, _ := a.v.Load().(T)
	return value
}

func (a *Atomic[T]) Store(value T) {
	a.v.Store(value)
}

func (a *Atomic[T]) CompareAndSwap(old, new T) bool {
	return a.v.CompareAndSwap(old, new)
}
