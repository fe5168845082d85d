package app

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/capture"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/store"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/stream"
)

// sessionResult summarises a finished session for the reconnect loop.
type sessionResult struct {
	reason    stream.Reason
	err       error
	delivered uint64
	// stopped is set when the frame hook asked to quit. The session reason
	// can still read end_of_stream if the source ended first.
	stopped bool
}

// runSession builds one session, consumes it to the end and records it.
//
// Pipeline:
// 1. Build a session over a fresh source and start capture
// 2. Pull the freshest frame
// 3. Score motion against the previous frame
// 4. Encode and publish a JPEG preview when enabled
// 5. Hand the frame to the hook, then close it
// 6. On exit close the session, which joins capture and drops leftovers
func (a *App) runSession(ctx context.Context) sessionResult {
	a.mu.Lock()
	a.attempt++
	attempt := a.attempt
	a.mu.Unlock()

	name := fmt.Sprintf("%s-%d", a.config.Name, attempt)
	src := a.config.Source()
	s, err := stream.New(ctx, src, stream.Config[*gocv.Mat]{
		Name:        name,
		Capacity:    a.config.Capacity,
		PollRunning: a.config.PollRunning,
		PollStartup: a.config.PollStartup,
		Release:     capture.ReleaseMat,
		Logger:      a.config.Logger,
	})
	if err != nil {
		if src != nil {
			if rerr := src.Release(); rerr != nil {
				a.log.Warn("failed to release source", zap.Error(rerr))
			}
		}
		return sessionResult{reason: stream.ReasonOpenFailed, err: err}
	}

	rec := a.recordStart(attempt)

	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	a.motion.Reset()
	a.meter.reset()

	stopped := false
	s.Start()
	for f := range s.Frames() {
		if !a.process(f) {
			stopped = true
			s.Cancel()
			break
		}
	}
	err = s.Close()

	st := s.Stats()
	a.mu.Lock()
	a.session = nil
	a.lastStats = st
	a.mu.Unlock()

	a.recordFinish(rec, st, err)

	a.log.Info("session ended",
		zap.String("session", name),
		zap.String("reason", string(st.Reason)),
		zap.Uint64("captured", st.Captured),
		zap.Uint64("delivered", st.Delivered),
		zap.Uint64("dropped", st.Dropped()),
		zap.Bool("stopped", stopped),
	)

	return sessionResult{reason: st.Reason, err: err, delivered: st.Delivered, stopped: stopped}
}

// process runs the consumer workload on one frame and releases it.
func (a *App) process(f stream.Frame[*gocv.Mat]) bool {
	defer capture.ReleaseMat(f.Image)

	m := a.motion.Detect(f.Image)
	a.meter.tick(f.CapturedAt)

	a.mu.Lock()
	a.lastMotion = m
	a.mu.Unlock()

	if m.Detected {
		a.log.Debug("motion", zap.Uint64("seq", f.Seq), zap.Float64("changed", m.Changed))
	}

	if a.IsEnabled() {
		if err := a.publish(f); err != nil {
			a.log.Warn("failed to encode preview", zap.Uint64("seq", f.Seq), zap.Error(err))
		}
	}

	if a.config.OnFrame != nil {
		return a.config.OnFrame(f.Image)
	}
	return true
}

func (a *App) publish(f stream.Frame[*gocv.Mat]) error {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *f.Image,
		[]int{int(gocv.IMWriteJpegQuality), a.config.JPEGQuality})
	if err != nil {
		return err
	}
	defer buf.Close()

	a.preview.Publish(bytes.Clone(buf.GetBytes()), f.Seq, f.CapturedAt)
	return nil
}

func (a *App) recordStart(attempt int) *store.Session {
	if a.config.Store == nil {
		return nil
	}

	rec := &store.Session{
		Locator:  a.config.Locator,
		Capacity: a.config.Capacity,
		Attempt:  attempt,
	}
	if err := a.config.Store.Sessions().Create(rec); err != nil {
		a.log.Warn("failed to record session", zap.Error(err))
		return nil
	}
	return rec
}

func (a *App) recordFinish(rec *store.Session, st stream.Stats, err error) {
	if rec == nil {
		return
	}

	res := store.SessionResult{
		Reason:    string(st.Reason),
		Captured:  int64(st.Captured),
		Delivered: int64(st.Delivered),
		Dropped:   int64(st.Dropped()),
		EndedAt:   st.EndedAt,
	}
	if err != nil {
		res.Error = err.Error()
	}
	if res.EndedAt.IsZero() {
		res.EndedAt = time.Now()
	}

	if err := a.config.Store.Sessions().Finish(rec.ID, res); err != nil {
		a.log.Warn("failed to record session end", zap.String("id", rec.ID), zap.Error(err))
	}
}
