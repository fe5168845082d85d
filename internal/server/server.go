// Package server provides the HTTP surface for the capture service: health,
// live MJPEG preview, snapshots, stats and session history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/app"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/server/api"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/store"
)

// FrameSource provides encoded preview frames. *app.Preview implements it.
type FrameSource interface {
	Latest() (app.Snapshot, bool)
	Next(ctx context.Context, version uint64) (app.Snapshot, error)
}

// StatsSource provides the live stats snapshot. *app.App implements it.
type StatsSource interface {
	Stats() app.Stats
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Preview   FrameSource
	Stats     StatsSource
	Toggle    api.Toggle

	// StatsInterval is the websocket broadcast period. Zero selects 500ms.
	StatsInterval time.Duration

	Logger *zap.Logger
}

// Server represents the HTTP server for the capture service.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    *zap.Logger
	stats  *StatsHandler
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    config.Logger.Named("server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.Toggle != nil {
		s.mux.Handle("/api/preview", api.NewPreviewHandler(s.config.Toggle))
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Preview, s.log))
		s.mux.Handle("/api/snapshot", NewSnapshotHandler(s.config.Preview))
	}

	if s.config.Stats != nil {
		s.stats = NewStatsHandler(s.config.Stats, s.config.StatsInterval, s.log)
		s.mux.Handle("/api/stats", s.stats)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}

	if s.config.Stats != nil {
		st := s.config.Stats.Stats()
		response["running"] = st.Running
		response["reason"] = st.Session.Reason
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.http.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the stats broadcaster and disconnects its clients.
func (s *Server) Close() {
	if s.stats != nil {
		s.stats.Close()
	}
}
