// Package event provides a small multi-subscriber publish/subscribe bus.
//
// Listeners are invoked synchronously, in subscription order, on the
// publishing goroutine. Publish never holds the bus lock while calling a
// listener, so listeners may subscribe or unsubscribe from inside a callback.
package event

import "sync"

// Bus fans out values of type T to every subscribed listener.
type Bus[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is idempotent.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers v to all current listeners.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	ls := make([]listener[T], len(b.listeners))
	copy(ls, b.listeners)
	b.mu.Unlock()
	for _, l := range ls {
		l.fn(v)
	}
}

// Len returns the number of subscribed listeners.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
