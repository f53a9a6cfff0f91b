// Package signal provides the two observer primitives used by the realtime
// layer: Value, a replayable state signal where late subscribers immediately
// see the current value, and Stream, a fan-out of discrete events.
package signal

import (
	"sync"
)

// Value holds the latest value of a piece of state and replays it to every
// new subscriber. Subscribers that fall behind only observe the most recent
// value; intermediate values are coalesced.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[uint64]chan T
	nextID  uint64
}

// NewValue creates a Value seeded with initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		subs:    make(map[uint64]chan T),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores x and publishes it to every subscriber.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.current = x
	for _, ch := range v.subs {
		offerLatest(ch, x)
	}
}

// Subscribe returns a channel that immediately holds the current value and
// then receives every later value (latest wins). The returned function
// unregisters the subscription and closes the channel; it is safe to call
// more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	ch := make(chan T, 1)
	ch <- v.current
	v.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			close(ch)
		})
	}
}

// Len returns the number of live subscribers.
func (v *Value[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// offerLatest replaces whatever is buffered in ch with x. Callers hold the
// Value lock, so they are the only sender.
func offerLatest[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- x
}
