package types

import "sync"

// Map is a concurrency-safe generic map. The zero value is empty and ready
// to use.
type Map[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// ensure must be called with mu held for writing.
func (m *Map[K, V]) ensure() {
	if m.entries == nil {
		m.entries = map[K]V{}
	}
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok
}

func (m *Map[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure()
	m.entries[key] = value
}

func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// LoadOrStore returns the existing value for key if present, otherwise it
// stores value. loaded is true when the key was already there.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure()
	if existing, ok := m.entries[key]; ok {
		return existing, true
	}
	m.entries[key] = value
	return value, false
}

// LoadAndDelete removes key, returning its previous value if any.
func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	return value, ok
}

// Range calls fn for each entry until it returns false. It iterates over a
// snapshot of the keys, so fn may insert and delete freely; an entry
// deleted mid-iteration is skipped.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, key := range m.Keys() {
		value, ok := m.Load(key)
		if !ok {
			continue
		}
		if !fn(key, value) {
			return
		}
	}
}

func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns a snapshot of the stored keys.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	return keys
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}
