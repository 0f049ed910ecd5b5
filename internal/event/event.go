// Package event provides lifecycle-scoped publishers with explicit
// subscribe and unsubscribe calls.
//
// Handlers run synchronously on the emitting goroutine in subscription
// order. The first handler error stops emission and is returned to the
// emitter so faults raised by subscribers are never swallowed.
package event

import "sync"

// Handler receives a published value.
type Handler[T any] func(T) error

// Event is a typed publisher. The zero value is ready to use.
type Event[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []binding[T]
}

type binding[T any] struct {
	id      uint64
	handler Handler[T]
}

// Subscription detaches a handler from its Event. Unsubscribe may be
// called more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Subsequent calls are no-ops.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe registers handler and returns the Subscription that removes it.
func (e *Event[T]) Subscribe(handler Handler[T]) *Subscription {
	if e == nil || handler == nil {
		return &Subscription{}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, binding[T]{id: id, handler: handler})
	e.mu.Unlock()
	return &Subscription{cancel: func() { e.remove(id) }}
}

func (e *Event[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, b := range e.handlers {
		if b.id != id {
			continue
		}
		copy(e.handlers[i:], e.handlers[i+1:])
		e.handlers[len(e.handlers)-1] = binding[T]{}
		e.handlers = e.handlers[:len(e.handlers)-1]
		return
	}
}

// Emit delivers value to every handler in subscription order, stopping at
// the first error.
func (e *Event[T]) Emit(value T) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	snapshot := make([]binding[T], len(e.handlers))
	copy(snapshot, e.handlers)
	e.mu.Unlock()

	for _, b := range snapshot {
		if err := b.handler(value); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of active subscribers.
func (e *Event[T]) Len() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}
