package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/buffer"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/capture"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/store"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/stream"
)

// unreachableSource fails to open every time.
type unreachableSource struct {
	opens *atomic.Int32
}

func (s unreachableSource) Open(ctx context.Context) error {
	s.opens.Add(1)
	return errors.New("connection refused")
}

func (s unreachableSource) Read(ctx context.Context) (*gocv.Mat, error) {
	return nil, errors.New("not open")
}

func (s unreachableSource) Release() error { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPattern(t *testing.T, fps int) *capture.MockCamera {
	t.Helper()

	cam := capture.NewTestPattern(64, 48, fps)
	t.Cleanup(cam.Close)
	return cam
}

// stopAfter returns a hook that ends the session after n frames.
func stopAfter(n int) (FrameHook, *atomic.Int32) {
	var seen atomic.Int32
	return func(img *gocv.Mat) bool {
		return seen.Add(1) < int32(n)
	}, &seen
}

func runWithTimeout(t *testing.T, a *App, d time.Duration) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(d + 5*time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func TestApp_Run_PublishesPreviewAndRecordsSession(t *testing.T) {
	s := newTestStore(t)
	cam := testPattern(t, 0)
	hook, seen := stopAfter(5)

	a := New(Config{
		Locator: "mock://pattern",
		Source:  func() stream.Source[*gocv.Mat] { return cam },
		OnFrame: hook,
		Store:   s,
	})

	if err := runWithTimeout(t, a, 10*time.Second); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := seen.Load(); got != 5 {
		t.Errorf("hook saw %d frames, want 5", got)
	}

	snap, ok := a.Preview().Latest()
	if !ok {
		t.Fatal("Preview().Latest() should hold a frame")
	}
	if len(snap.JPEG) < 2 || snap.JPEG[0] != 0xFF || snap.JPEG[1] != 0xD8 {
		t.Error("preview should be a JPEG")
	}

	sessions, err := s.Sessions().List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("recorded %d sessions, want 1", len(sessions))
	}
	rec := sessions[0]
	if rec.Reason != string(stream.ReasonCancelled) {
		t.Errorf("recorded reason = %q, want cancelled", rec.Reason)
	}
	if rec.Locator != "mock://pattern" || rec.Capacity != stream.DefaultCapacity {
		t.Errorf("recorded %q capacity %d", rec.Locator, rec.Capacity)
	}
	if rec.Delivered != 5 {
		t.Errorf("recorded delivered = %d, want 5", rec.Delivered)
	}
	if rec.Captured != rec.Delivered+rec.Dropped {
		t.Errorf("captured %d != delivered %d + dropped %d", rec.Captured, rec.Delivered, rec.Dropped)
	}

	st := a.Stats()
	if st.Running {
		t.Error("Stats().Running should be false after Run returns")
	}
	if st.Session.Reason != stream.ReasonCancelled {
		t.Errorf("Stats().Session.Reason = %q, want cancelled", st.Session.Reason)
	}
}

func TestApp_Run_EndOfStream(t *testing.T) {
	frames := make([]*gocv.Mat, 3)
	for i := range frames {
		m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
		frames[i] = &m
	}
	cam := capture.NewMockCamera(frames, false)
	t.Cleanup(cam.Close)

	a := New(Config{
		Source:   func() stream.Source[*gocv.Mat] { return cam },
		Capacity: 200,
	})

	if err := runWithTimeout(t, a, 10*time.Second); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st := a.Stats()
	if st.Session.Reason != stream.ReasonEndOfStream {
		t.Errorf("reason = %q, want end_of_stream", st.Session.Reason)
	}
	if st.Session.Captured != 3 {
		t.Errorf("captured = %d, want 3", st.Session.Captured)
	}
	if st.Session.Delivered != 3 {
		t.Errorf("delivered = %d, want 3 with a buffer larger than the stream", st.Session.Delivered)
	}
	if st.Reconnects != 0 {
		t.Errorf("reconnects = %d, want 0 with reconnect disabled", st.Reconnects)
	}
}

func TestApp_Run_OpenFailureWithoutReconnect(t *testing.T) {
	var opens atomic.Int32
	a := New(Config{
		Source: func() stream.Source[*gocv.Mat] { return unreachableSource{opens: &opens} },
	})

	err := runWithTimeout(t, a, 5*time.Second)
	if !errors.Is(err, stream.ErrSourceOpen) {
		t.Errorf("Run() error = %v, want ErrSourceOpen", err)
	}
	if got := opens.Load(); got != 1 {
		t.Errorf("opened %d times, want 1", got)
	}
}

func TestApp_Run_ReconnectExhausted(t *testing.T) {
	s := newTestStore(t)
	var opens atomic.Int32

	a := New(Config{
		Source: func() stream.Source[*gocv.Mat] { return unreachableSource{opens: &opens} },
		Reconnect: ReconnectConfig{
			Enabled:    true,
			Delay:      time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
			MaxRetries: 2,
		},
		Store: s,
	})

	err := runWithTimeout(t, a, 10*time.Second)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Run() error = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, stream.ErrSourceOpen) {
		t.Errorf("Run() error = %v, should wrap ErrSourceOpen", err)
	}

	if got := opens.Load(); got != 3 {
		t.Errorf("opened %d times, want 3", got)
	}
	if got := a.Stats().Reconnects; got != 2 {
		t.Errorf("reconnects = %d, want 2", got)
	}

	sessions, err := s.Sessions().List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("recorded %d sessions, want 3", len(sessions))
	}
	for _, rec := range sessions {
		if rec.Reason != string(stream.ReasonOpenFailed) {
			t.Errorf("session %d reason = %q, want open_failed", rec.Attempt, rec.Reason)
		}
		if rec.Error == "" {
			t.Errorf("session %d should record the open error", rec.Attempt)
		}
	}
}

func TestApp_Run_ContextCancel(t *testing.T) {
	cam := testPattern(t, 100)

	a := New(Config{
		Source:    func() stream.Source[*gocv.Mat] { return cam },
		Reconnect: ReconnectConfig{Enabled: true, Delay: time.Millisecond},
	})

	if err := runWithTimeout(t, a, 200*time.Millisecond); err != nil {
		t.Errorf("Run() error = %v, want nil on cancellation", err)
	}
	if cam.IsOpen() {
		t.Error("camera should be released after Run returns")
	}
	if got := a.Stats().Session.Reason; got != stream.ReasonCancelled {
		t.Errorf("reason = %q, want cancelled", got)
	}
}

func TestApp_Run_AlreadyRunning(t *testing.T) {
	cam := testPattern(t, 100)

	a := New(Config{
		Source: func() stream.Source[*gocv.Mat] { return cam },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !a.Stats().Running {
		if time.Now().After(deadline) {
			t.Fatal("Run() never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := a.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestApp_SetEnabled(t *testing.T) {
	s := newTestStore(t)
	cam := testPattern(t, 0)

	a := New(Config{Source: func() stream.Source[*gocv.Mat] { return cam }, Store: s})
	if !a.IsEnabled() {
		t.Fatal("preview should be enabled by default")
	}

	a.SetEnabled(false)

	// The setting survives a restart.
	hook, _ := stopAfter(3)
	b := New(Config{
		Source:  func() stream.Source[*gocv.Mat] { return cam },
		OnFrame: hook,
		Store:   s,
	})
	if b.IsEnabled() {
		t.Fatal("preview toggle should be restored from the store")
	}

	if err := runWithTimeout(t, b, 10*time.Second); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, ok := b.Preview().Latest(); ok {
		t.Error("nothing should be published while the preview is disabled")
	}
	if got := b.Stats().Session.Delivered; got != 3 {
		t.Errorf("delivered = %d, want 3: capture continues while disabled", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	a := New(Config{})

	if a.config.Capacity != stream.DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", a.config.Capacity, stream.DefaultCapacity)
	}
	if a.config.JPEGQuality != DefaultJPEGQuality {
		t.Errorf("JPEGQuality = %d, want %d", a.config.JPEGQuality, DefaultJPEGQuality)
	}
	if a.config.Name != "camera" {
		t.Errorf("Name = %q, want camera", a.config.Name)
	}
}

func TestApp_Run_HookStopDuringDrainEndsRun(t *testing.T) {
	frames := make([]*gocv.Mat, 5)
	for i := range frames {
		m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
		frames[i] = &m
	}
	cam := capture.NewMockCamera(frames, false)
	t.Cleanup(cam.Close)

	var a *App
	var sawEnd atomic.Bool
	hook := func(img *gocv.Mat) bool {
		// Hold the first frame until the source has ended so the quit
		// lands while the buffer is still draining.
		deadline := time.Now().Add(5 * time.Second)
		for a.Stats().Session.Reason != stream.ReasonEndOfStream {
			if time.Now().After(deadline) {
				return false
			}
			time.Sleep(time.Millisecond)
		}
		sawEnd.Store(true)
		return false
	}

	a = New(Config{
		Source:   func() stream.Source[*gocv.Mat] { return cam },
		Capacity: 200,
		OnFrame:  hook,
		Reconnect: ReconnectConfig{
			Enabled: true,
			Delay:   time.Millisecond,
		},
	})

	if err := runWithTimeout(t, a, 10*time.Second); err != nil {
		t.Fatalf("Run() error = %v, want nil when the hook stops", err)
	}
	if !sawEnd.Load() {
		t.Fatal("source never reached end of stream")
	}

	st := a.Stats()
	if st.Reconnects != 0 {
		t.Errorf("reconnects = %d, want 0 after the hook asked to stop", st.Reconnects)
	}
	if st.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", st.Attempt)
	}
	if st.Session.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", st.Session.Delivered)
	}
}

// releaseCounter counts Release calls and never produces frames.
type releaseCounter struct {
	releases *atomic.Int32
}

func (s releaseCounter) Open(ctx context.Context) error { return nil }

func (s releaseCounter) Read(ctx context.Context) (*gocv.Mat, error) {
	return nil, stream.ErrEndOfStream
}

func (s releaseCounter) Release() error {
	s.releases.Add(1)
	return nil
}

func TestApp_Run_ReleasesSourceWhenSessionCannotBeBuilt(t *testing.T) {
	var releases atomic.Int32
	a := New(Config{
		Source:   func() stream.Source[*gocv.Mat] { return releaseCounter{releases: &releases} },
		Capacity: -1,
	})

	err := runWithTimeout(t, a, 5*time.Second)
	if !errors.Is(err, buffer.ErrInvalidCapacity) {
		t.Fatalf("Run() error = %v, want ErrInvalidCapacity", err)
	}
	if got := releases.Load(); got != 1 {
		t.Errorf("released %d times, want 1", got)
	}
}
