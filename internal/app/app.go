// Package app drives capture sessions against a network camera and feeds
// each delivered frame through the consumer workload.
package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/capture"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/store"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/stream"
)

// Consumer defaults.
const (
	// DefaultJPEGQuality is the preview encoding quality.
	DefaultJPEGQuality = 80

	// previewSetting is the settings key that persists SetEnabled.
	previewSetting = "preview_enabled"
)

// SourceFactory builds a fresh, unopened source for each session.
type SourceFactory func() stream.Source[*gocv.Mat]

// FrameHook is called on the consumer goroutine with every delivered frame
// after the built-in workload has run. Returning false ends the session.
// The hook must not retain img.
type FrameHook func(img *gocv.Mat) bool

// Config holds configuration options for the application.
type Config struct {
	// Name prefixes session names in logs.
	Name string

	// Locator is recorded with every session. It is informational only.
	Locator string

	// Source is required.
	Source SourceFactory

	Capacity    int
	PollRunning time.Duration
	PollStartup time.Duration

	Reconnect ReconnectConfig

	MotionThresh float64
	JPEGQuality  int

	// OnFrame is optional.
	OnFrame FrameHook

	// Store is optional. When set, sessions are recorded and the preview
	// toggle is persisted.
	Store *store.Store

	Logger *zap.Logger
}

// App runs one capture session at a time and consumes its frames.
type App struct {
	config  Config
	log     *zap.Logger
	motion  *capture.MotionDetector
	preview *Preview
	meter   fpsMeter

	mu         sync.RWMutex
	enabled    bool
	running    bool
	session    *stream.Session[*gocv.Mat]
	attempt    int
	reconnects int
	lastMotion capture.Motion
	lastStats  stream.Stats
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	if config.Name == "" {
		config.Name = "camera"
	}
	if config.Capacity == 0 {
		config.Capacity = stream.DefaultCapacity
	}
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = DefaultJPEGQuality
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	a := &App{
		config:  config,
		log:     config.Logger.Named("app"),
		motion:  capture.NewMotionDetector(config.MotionThresh),
		preview: NewPreview(),
		enabled: true,
	}

	if config.Store != nil {
		a.enabled = config.Store.Settings().Bool(previewSetting, true)
	}

	return a
}

// SetEnabled turns preview publishing on or off. Capture keeps running
// either way.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()

	if a.config.Store != nil {
		if err := a.config.Store.Settings().SetBool(previewSetting, enabled); err != nil {
			a.log.Warn("failed to persist preview setting", zap.Error(err))
		}
	}
	a.log.Info("preview toggled", zap.Bool("enabled", enabled))
}

// IsEnabled returns whether preview publishing is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Preview returns the hub holding the latest encoded frame.
func (a *App) Preview() *Preview {
	return a.preview
}

// Locator returns the configured camera locator.
func (a *App) Locator() string {
	return a.config.Locator
}

// Store returns the session store, or nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

// Run drives sessions until ctx is cancelled, the frame hook asks to stop,
// or the source fails with reconnect disabled or exhausted. It returns nil
// when stopped by ctx or the hook. Run consumes frames on the calling
// goroutine, so a FrameHook that needs the main thread works when Run is
// called from main.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		a.motion.Close()
	}()

	state := &ReconnectState{}
	for {
		res := a.runSession(ctx)

		if ctx.Err() != nil || res.stopped || res.reason == stream.ReasonCancelled {
			a.log.Info("capture stopped")
			return nil
		}
		if !a.config.Reconnect.Enabled {
			return res.err
		}

		if res.delivered > 0 {
			state.Reset()
		}
		delay, err := state.Next(a.config.Reconnect, res.err)
		if err != nil {
			a.log.Error("giving up on source", zap.Error(err))
			return err
		}

		a.mu.Lock()
		a.reconnects++
		a.mu.Unlock()

		a.log.Warn("reconnecting",
			zap.String("reason", string(res.reason)),
			zap.Int("retry", state.Retries()),
			zap.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}
