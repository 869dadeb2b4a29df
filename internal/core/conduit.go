package core

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Stream is a finite, non-restartable sequence of generated text
// fragments. Recv blocks until the next fragment is available and returns
// io.EOF on graceful end-of-stream; any other error is terminal. Each
// fragment returned from Recv is also appended to an internal accumulator,
// so after the stream terminates Text() is exactly the concatenation of
// everything the consumer was handed, in delivery order.
type Stream struct {
	next   func() (string, error)
	cancel context.CancelFunc

	mu   sync.Mutex
	acc  strings.Builder
	term error
}

// NewStream wraps a pull function. next must return io.EOF when the
// upstream finishes cleanly; cancel may be nil.
func NewStream(next func() (string, error), cancel context.CancelFunc) *Stream {
	return &Stream{next: next, cancel: cancel}
}

func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.term != nil {
		return "", s.term
	}

	fragment, err := s.next()
	if err != nil {
		s.term = err
		if s.cancel != nil {
			s.cancel()
		}
		return "", err
	}

	s.acc.WriteString(fragment)
	return fragment, nil
}

// Text returns the text accumulated so far. After Recv has returned a
// terminal error this is the final value.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.String()
}

// Err reports the terminal state: nil while the stream is live, io.EOF
// after a clean finish, the failure otherwise.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Cancel aborts the upstream call. A subsequent Recv observes the
// cancellation as a stream error.
func (s *Stream) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Completed reports whether the stream ended gracefully.
func (s *Stream) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term == io.EOF
}
