package signal

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultStreamBuffer is the per-subscriber buffer used by NewStream.
const DefaultStreamBuffer = 64

// Stream fans out discrete events to every current subscriber. There is no
// replay: subscribers only see events published after they subscribed.
// A subscriber whose buffer is full misses the event; the drop is logged.
type Stream[T any] struct {
	name   string
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

// NewStream creates a Stream. The name is used in log messages only.
func NewStream[T any](name string) *Stream[T] {
	return NewStreamWithBuffer[T](name, DefaultStreamBuffer)
}

// NewStreamWithBuffer creates a Stream with a custom per-subscriber buffer.
func NewStreamWithBuffer[T any](name string, buffer int) *Stream[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream[T]{
		name:   name,
		buffer: buffer,
		subs:   make(map[uint64]chan T),
	}
}

// Publish delivers x to every subscriber without blocking.
func (s *Stream[T]) Publish(x T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	for id, ch := range s.subs {
		select {
		case ch <- x:
		default:
			log.Warn().
				Str("stream", s.name).
				Uint64("subscriber", id).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// Subscribe registers a new subscriber. The returned function unregisters
// it and closes the channel.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, s.buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
