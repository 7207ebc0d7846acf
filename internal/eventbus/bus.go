// Package eventbus carries one-way notifications between the simulator, the
// transport read path and their observers. Publishing never blocks: a slow
// subscriber misses events instead of stalling the publisher.
package eventbus

import "sync"

const defaultBuffer = 16

// Publisher is the write side of a bus.
type Publisher[T any] interface {
	Publish(T)
}

// Bus is a type-safe publish/subscribe bus for events of type T.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   []chan T
	buffer int
	closed bool
}

// New creates a Bus whose subscriber channels hold the default buffer.
func New[T any]() *Bus[T] { return NewWithBuffer[T](defaultBuffer) }

// NewWithBuffer creates a Bus whose subscriber channels hold n events.
func NewWithBuffer[T any](n int) *Bus[T] {
	if n < 0 {
		n = 0
	}
	return &Bus[T]{buffer: n}
}

// Publish sends the event to all subscribers. Delivery is non-blocking.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its channel.
func (b *Bus[T]) Subscribe() <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes the bus and all subscriber channels.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Discard is a Publisher that drops every event.
type Discard[T any] struct{}

func (Discard[T]) Publish(T) {}
