package feed

import (
	"sync"

	"github.com/mcoot/bunker/internal/model"
)

// Stream is a reusable Subscription implementation for backends that pump
// events from a goroutine. Offer never blocks: when the buffer is full the
// event is dropped, which is safe because any buffered event already
// triggers a full refetch.
type Stream struct {
	events chan model.ChangeEvent

	mu      sync.Mutex
	closed  bool
	err     error
	onClose func() error
	done    chan struct{}
}

// NewStream creates a stream. onClose runs once when the stream ends,
// whether by Close or Fail.
func NewStream(onClose func() error) *Stream {
	return &Stream{
		events:  make(chan model.ChangeEvent, EventBuffer),
		onClose: onClose,
		done:    make(chan struct{}),
	}
}

// Offer queues an event without blocking. Reports false if dropped.
func (s *Stream) Offer(event model.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// Fail ends the stream with an error
func (s *Stream) Fail(err error) {
	s.finish(err)
}

// Done is closed when the stream ends
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Events() <-chan model.ChangeEvent {
	return s.events
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	return s.finish(nil)
}

func (s *Stream) finish(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.err = cause
	close(s.events)
	close(s.done)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		return onClose()
	}
	return nil
}
