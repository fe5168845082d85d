package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/buffer"
)

// Default session settings.
const (
	// DefaultCapacity keeps latency low for pass-through display.
	DefaultCapacity = 2
	// DefaultPollRunning bounds how long the consumer sleeps on an empty buffer.
	DefaultPollRunning = time.Millisecond
	// DefaultPollStartup bounds how long the consumer sleeps before capture begins.
	DefaultPollStartup = 100 * time.Millisecond
)

// Config holds the settings for one capture session.
type Config[T any] struct {
	// Name identifies the session in logs and stats.
	Name string

	// Capacity is the maximum number of buffered frames. Must be positive.
	Capacity int

	// PollRunning and PollStartup cap the time the consumer waits before
	// re-checking the buffer. Zero selects the defaults.
	PollRunning time.Duration
	PollStartup time.Duration

	// Release frees an image the session drops without delivering it
	// (evicted, cleared on shutdown, or popped after cancellation).
	Release func(T)

	Logger *zap.Logger
}

// DefaultConfig returns a Config with the default capacity and intervals.
func DefaultConfig[T any]() Config[T] {
	return Config[T]{
		Capacity:    DefaultCapacity,
		PollRunning: DefaultPollRunning,
		PollStartup: DefaultPollStartup,
	}
}

// Session is one capture run: a source, a buffer, a cancellation context
// and the goroutine that moves frames from the first to the second.
type Session[T any] struct {
	cfg    Config[T]
	source Source[T]
	buf    *buffer.Freshest[Frame[T]]
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce   sync.Once
	releaseOnce sync.Once
	started     chan struct{}
	done        chan struct{}

	captured  atomic.Uint64
	delivered atomic.Uint64
	discarded atomic.Uint64

	mu        sync.Mutex
	reason    Reason
	err       error
	startedAt time.Time
	endedAt   time.Time
}

// New builds a session around src. The session is cancelled when parent is
// cancelled. Capture does not begin until Start is called.
func New[T any](parent context.Context, src Source[T], cfg Config[T]) (*Session[T], error) {
	if src == nil {
		return nil, errors.New("stream: nil source")
	}
	if cfg.PollRunning <= 0 {
		cfg.PollRunning = DefaultPollRunning
	}
	if cfg.PollStartup <= 0 {
		cfg.PollStartup = DefaultPollStartup
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Session[T]{
		cfg:     cfg,
		source:  src,
		log:     cfg.Logger.With(zap.String("session", cfg.Name)),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		reason:  ReasonRunning,
	}

	buf, err := buffer.New(cfg.Capacity, buffer.WithRelease(s.drop))
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	s.buf = buf

	s.ctx, s.cancel = context.WithCancel(parent)

	return s, nil
}

// Start launches the capture goroutine. Calling it again has no effect.
func (s *Session[T]) Start() {
	s.startOnce.Do(func() {
		go s.capture()
	})
}

// Cancel sets the session's cancellation flag. It does not wait.
func (s *Session[T]) Cancel() {
	s.cancel()
}

// Cancelled reports whether the session has been cancelled.
func (s *Session[T]) Cancelled() bool {
	return s.ctx.Err() != nil
}

// Done is closed once the capture goroutine has exited.
func (s *Session[T]) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the capture goroutine has exited and returns the error
// that ended it. Only open failures are reported; read failures and
// end-of-stream end the session quietly.
func (s *Session[T]) Wait() error {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the session, waits for capture to stop and drops anything
// still buffered. A session that was never started is released directly.
func (s *Session[T]) Close() error {
	s.cancel()

	s.startOnce.Do(func() {
		s.releaseSource()
		s.finish(ReasonCancelled, nil)
		close(s.started)
		close(s.done)
	})

	err := s.Wait()
	s.buf.Clear()
	return err
}

// Reason returns why the session stopped, or ReasonRunning.
func (s *Session[T]) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// capture runs on its own goroutine for the lifetime of the session.
func (s *Session[T]) capture() {
	defer close(s.done)

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	close(s.started)

	defer s.releaseSource()

	if err := s.source.Open(s.ctx); err != nil {
		s.log.Error("open failed", zap.Error(err))
		s.finish(ReasonOpenFailed, fmt.Errorf("%w: %w", ErrSourceOpen, err))
		return
	}
	s.log.Info("capture started", zap.Int("capacity", s.buf.Cap()))

	for {
		img, err := s.source.Read(s.ctx)
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
				s.stopCancelled()
			case errors.Is(err, ErrEndOfStream), errors.Is(err, io.EOF):
				s.log.Info("source ended", zap.Uint64("captured", s.captured.Load()))
				s.finish(ReasonEndOfStream, nil)
			default:
				s.log.Warn("read failed, ending stream", zap.Error(err))
				s.finish(ReasonReadFailed, nil)
			}
			return
		}

		seq := s.captured.Add(1)
		s.buf.Push(Frame[T]{Seq: seq, CapturedAt: time.Now(), Image: img})

		if s.ctx.Err() != nil {
			s.stopCancelled()
			return
		}
	}
}

func (s *Session[T]) stopCancelled() {
	n := s.buf.Clear()
	s.log.Info("capture cancelled", zap.Int("cleared", n), zap.Uint64("captured", s.captured.Load()))
	s.finish(ReasonCancelled, nil)
}

func (s *Session[T]) finish(reason Reason, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reason = reason
	s.err = err
	s.endedAt = time.Now()
}

func (s *Session[T]) releaseSource() {
	s.releaseOnce.Do(func() {
		if err := s.source.Release(); err != nil {
			s.log.Warn("release failed", zap.Error(err))
		}
	})
}

// drop hands an undelivered frame to the configured release hook.
func (s *Session[T]) drop(f Frame[T]) {
	if s.cfg.Release != nil {
		s.cfg.Release(f.Image)
	}
}
