// Package signal provides an observable value: the current value plus a
// change notification delivered to every subscriber.
package signal

import (
	"sync"
)

// Handler receives the value after each Set.
type Handler[T any] func(T)

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Value holds the latest value of a signal.
// Handlers run synchronously on the goroutine that called Set, outside the
// internal lock, in subscription order.
type Value[T any] struct {
	mu       sync.RWMutex
	current  T
	version  uint64
	nextID   uint64
	handlers []entry[T]
}

type entry[T any] struct {
	id uint64
	fn Handler[T]
}

// NewValue creates a signal holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Version increments on every Set. Zero means never set.
func (v *Value[T]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Set stores next and notifies subscribers, even when next equals the
// current value: a repeated Set is a re-evaluation trigger.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	v.current = next
	v.version++
	handlers := make([]Handler[T], 0, len(v.handlers))
	for _, e := range v.handlers {
		handlers = append(handlers, e.fn)
	}
	v.mu.Unlock()

	for _, fn := range handlers {
		fn(next)
	}
}

// Subscribe registers fn for future changes. When replay is true fn is
// also called once with the current value before Subscribe returns.
func (v *Value[T]) Subscribe(fn Handler[T], replay bool) Subscription {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.handlers = append(v.handlers, entry[T]{id: id, fn: fn})
	current := v.current
	v.mu.Unlock()

	if replay {
		fn(current)
	}
	return &subscription[T]{value: v, id: id}
}

func (v *Value[T]) remove(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, e := range v.handlers {
		if e.id == id {
			v.handlers = append(v.handlers[:i], v.handlers[i+1:]...)
			return
		}
	}
}

type subscription[T any] struct {
	value *Value[T]
	id    uint64
	once  sync.Once
}

func (s *subscription[T]) Unsubscribe() {
	s.once.Do(func() { s.value.remove(s.id) })
}
