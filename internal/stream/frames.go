package stream

import (
	"iter"
	"time"

	"go.uber.org/zap"
)

// Frames returns the consumer's view of the session: an iterator that
// yields the freshest buffered frame on every step.
//
// The iterator waits for capture to begin, then waits on the buffer while
// it is empty. It stops as soon as the session is cancelled, without
// draining what is still buffered. If the source ends on its own the
// remaining frames are yielded freshest first before the iterator returns.
//
// Only one goroutine may range over a session's frames. Ownership of each
// yielded image passes to the consumer.
func (s *Session[T]) Frames() iter.Seq[Frame[T]] {
	return func(yield func(Frame[T]) bool) {
		if !s.awaitStart() {
			return
		}
		s.log.Debug("starting buffered iteration")

		tick := time.NewTicker(s.cfg.PollRunning)
		defer tick.Stop()

		for {
			if s.ctx.Err() != nil {
				return
			}

			if f, ok := s.buf.TryPop(); ok {
				if s.ctx.Err() != nil {
					s.discard(f)
					return
				}
				s.delivered.Add(1)
				if !yield(f) {
					return
				}
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			case <-s.done:
				// No more pushes will happen; stop once the buffer is drained.
				if s.buf.Len() == 0 {
					return
				}
			case <-s.buf.Ready():
			case <-tick.C:
			}
		}
	}
}

// awaitStart blocks until the capture goroutine is running. It reports
// false if the session was cancelled first.
func (s *Session[T]) awaitStart() bool {
	select {
	case <-s.started:
		return true
	default:
	}

	s.log.Info("waiting for stream")

	tick := time.NewTicker(s.cfg.PollStartup)
	defer tick.Stop()

	for {
		select {
		case <-s.started:
			return true
		case <-s.ctx.Done():
			return false
		case <-tick.C:
		}
	}
}

func (s *Session[T]) discard(f Frame[T]) {
	s.discarded.Add(1)
	s.log.Debug("dropping frame popped after cancellation", zap.Uint64("seq", f.Seq))
	s.drop(f)
}
