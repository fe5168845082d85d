package app

import (
	"sync"
	"time"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/capture"
	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/stream"
)

// fpsWindow is how often the delivered frame rate is recomputed.
const fpsWindow = time.Second

// Stats is a point-in-time view of the application.
type Stats struct {
	Locator    string         `json:"locator"`
	Enabled    bool           `json:"enabled"`
	Running    bool           `json:"running"`
	Attempt    int            `json:"attempt"`
	Reconnects int            `json:"reconnects"`
	FPS        float64        `json:"fps"`
	Dropped    uint64         `json:"dropped"`
	Motion     capture.Motion `json:"motion"`
	Session    stream.Stats   `json:"session"`
}

// Stats returns a snapshot of the current (or last) session and the
// consumer workload.
func (a *App) Stats() Stats {
	a.mu.RLock()
	st := Stats{
		Locator:    a.config.Locator,
		Enabled:    a.enabled,
		Running:    a.running,
		Attempt:    a.attempt,
		Reconnects: a.reconnects,
		Motion:     a.lastMotion,
		Session:    a.lastStats,
	}
	s := a.session
	a.mu.RUnlock()

	if s != nil {
		st.Session = s.Stats()
	}
	st.Dropped = st.Session.Dropped()
	st.FPS = a.meter.rate()

	return st
}

// fpsMeter tracks the delivered frame rate over fixed windows.
type fpsMeter struct {
	mu          sync.Mutex
	windowStart time.Time
	frames      int
	fps         float64
}

func (m *fpsMeter) tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.windowStart.IsZero() {
		m.windowStart = now
	}
	m.frames++

	if elapsed := now.Sub(m.windowStart); elapsed >= fpsWindow {
		m.fps = float64(m.frames) / elapsed.Seconds()
		m.frames = 0
		m.windowStart = now
	}
}

func (m *fpsMeter) rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *fpsMeter) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowStart = time.Time{}
	m.frames = 0
	m.fps = 0
}
