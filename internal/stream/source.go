// Package stream couples a video source to a freshest-first buffer: a
// capture goroutine feeds the buffer and the caller pulls the newest frame
// through an iterator until the session is cancelled or the source ends.
package stream

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceOpen wraps any error returned by Source.Open. It is fatal to
	// the session and is reported by Session.Wait.
	ErrSourceOpen = errors.New("failed to open video source")

	// ErrEndOfStream is returned by Source.Read when no more frames will
	// arrive. io.EOF is treated the same way.
	ErrEndOfStream = errors.New("end of stream")
)

// Source is a video source that can be polled for its next frame.
//
// Open and Read are only ever called from the capture goroutine. Release is
// called exactly once per session, on whichever goroutine ends the capture
// loop, and must tolerate a source that failed to open.
type Source[T any] interface {
	// Open prepares the source for reading.
	Open(ctx context.Context) error

	// Read blocks until the next frame is available. Any error ends the
	// session; it is not retried.
	Read(ctx context.Context) (T, error)

	// Release frees the underlying handle.
	Release() error
}

// Frame is a captured image plus its position in capture order.
type Frame[T any] struct {
	// Seq starts at 1 and increases by one for every frame read in a session.
	Seq        uint64
	CapturedAt time.Time
	Image      T
}

// Reason describes why a session stopped.
type Reason string

// Session end reasons.
const (
	ReasonRunning     Reason = "running"
	ReasonCancelled   Reason = "cancelled"
	ReasonEndOfStream Reason = "end_of_stream"
	ReasonReadFailed  Reason = "read_failed"
	ReasonOpenFailed  Reason = "open_failed"
)
