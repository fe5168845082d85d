package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/app"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/capture"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/config"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/logger"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/server"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/store"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/stream"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/tray"
)

// Test pattern size for -mock.
const (
	mockWidth  = 640
	mockHeight = 480
	mockFPS    = 30
)

func init() {
	// HighGUI windows and the tray event loop must live on the main thread.
	runtime.LockOSThread()
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rpi-sandbox: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()
		log.Info("session history", zap.String("db", st.Path()))
	}

	source, locator, closeSource := newSourceFactory(cfg)
	defer closeSource()
	if cfg.Mock {
		log.Info("using generated test pattern")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appCfg := app.Config{
		Locator:     locator,
		Source:      source,
		Capacity:    cfg.BufferCapacity,
		PollRunning: cfg.PollRunning,
		PollStartup: cfg.PollStartup,
		Reconnect: app.ReconnectConfig{
			Enabled:    cfg.Reconnect,
			Delay:      cfg.ReconnectDelay,
			MaxDelay:   cfg.ReconnectMaxDelay,
			MaxRetries: cfg.MaxRetries,
		},
		MotionThresh: cfg.MotionThreshold,
		JPEGQuality:  cfg.JPEGQuality,
		Store:        st,
		Logger:       log,
	}

	var window *gocv.Window
	if cfg.Display {
		window = gocv.NewWindow(locator)
		defer window.Close()
		appCfg.OnFrame = displayHook(window)
	}

	a := app.New(appCfg)

	var wg sync.WaitGroup
	if cfg.HTTPAddr != "" {
		staticDir := cfg.StaticDir
		if staticDir == "" {
			staticDir = findWebDir()
		}
		if staticDir != "" {
			log.Info("serving static files", zap.String("dir", staticDir))
		}

		srv := server.New(server.Config{
			StaticDir: staticDir,
			Store:     st,
			Preview:   a.Preview(),
			Stats:     a,
			Toggle:    a,
			Logger:    log,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
				log.Error("server failed", zap.Error(err))
				cancel()
			}
		}()
	}

	log.Info("starting capture",
		zap.String("locator", locator),
		zap.Int("capacity", cfg.BufferCapacity),
		zap.Bool("reconnect", cfg.Reconnect),
	)

	if cfg.Tray {
		err = runWithTray(ctx, cancel, a, cfg.HTTPAddr, log)
	} else {
		// Frames are consumed here, on the main thread.
		err = a.Run(ctx)
	}

	cancel()
	wg.Wait()

	if err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

// newSourceFactory returns a factory for the configured source, the
// locator to record for it and a cleanup to run once capture has stopped.
func newSourceFactory(cfg *config.Config) (app.SourceFactory, string, func()) {
	if cfg.Mock {
		pattern := capture.NewTestPattern(mockWidth, mockHeight, mockFPS)
		return func() stream.Source[*gocv.Mat] { return pattern }, "mock://test-pattern", pattern.Close
	}

	camCfg := capture.DefaultConfig()
	camCfg.Protocol = cfg.Protocol
	camCfg.Host = cfg.Host
	camCfg.Port = cfg.Port
	camCfg.URL = cfg.URL
	camCfg.HWAcceleration = cfg.HWAcceleration

	return func() stream.Source[*gocv.Mat] {
		return capture.NewCamera(camCfg)
	}, camCfg.Locator(), func() {}
}

// runWithTray runs capture on a goroutine while the tray owns the main
// thread. Quitting from the tray cancels capture.
func runWithTray(ctx context.Context, cancel context.CancelFunc, a *app.App, httpAddr string, log *zap.Logger) error {
	tr := tray.New(a.IsEnabled())
	tr.OnToggle(a.SetEnabled)
	tr.OnQuit(cancel)
	tr.OnOpenPreview(openPreview(httpAddr, log))

	errCh := make(chan error, 1)
	go func() {
		err := a.Run(ctx)
		errCh <- err
		tr.Quit()
	}()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := a.Stats()
				tr.SetStatus(tray.FormatStatus(st.Running, st.FPS, st.Dropped, string(st.Session.Reason)))
			}
		}
	}()

	tr.Run()
	cancel()
	return <-errCh
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.rpi-sandbox/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".rpi-sandbox", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
