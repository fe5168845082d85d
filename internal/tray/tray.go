// Package tray provides a system tray menu for controlling the capture
// service.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray is the capture service's menu-bar presence: a preview switch, a
// read-only status line and quit.
type Tray struct {
	onToggle      func(enabled bool)
	onOpenPreview func()
	onQuit        func()
	enabled       bool
	status        string
	mu            sync.RWMutex

	ready     chan struct{}
	readyOnce sync.Once

	// nil until onReady
	menuToggle *systray.MenuItem
	menuStatus *systray.MenuItem
}

// New returns a Tray whose preview switch starts at enabled.
func New(enabled bool) *Tray {
	return &Tray{
		enabled: enabled,
		status:  "Connecting...",
		ready:   make(chan struct{}),
	}
}

// OnToggle registers fn to receive the new preview state on every flip.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpenPreview registers fn for the "Open preview" item.
func (t *Tray) OnOpenPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenPreview = fn
}

// OnQuit registers fn for the Quit item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application. It must be called from the main
// goroutine and blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return. It waits for the tray to be
// ready, so it is safe to call from any goroutine as soon as Run starts.
func (t *Tray) Quit() {
	<-t.ready
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("rpi-sandbox")
	systray.SetTooltip("Low-latency camera capture")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle the live preview")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem(t.status, "Capture status")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuPreview := systray.AddMenuItem("Open preview...", "Open the live preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Stop capture and quit")
	t.readyOnce.Do(func() { close(t.ready) })

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuPreview.ClickedCh:
				t.handleOpenPreview()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}

	callback := t.onToggle
	t.mu.Unlock()

	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleOpenPreview() {
	t.mu.RLock()
	callback := t.onOpenPreview
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit only signals; the owner cancels capture and calls Quit.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetStatus replaces the status line, e.g. with FormatStatus output.
func (t *Tray) SetStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(status)
	}
}

// Status returns the current status line.
func (t *Tray) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// IsEnabled reports the preview switch position.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// FormatStatus renders the status line shown in the menu.
func FormatStatus(running bool, fps float64, dropped uint64, reason string) string {
	if !running {
		if reason == "" || reason == "running" {
			return "Stopped"
		}
		return "Stopped: " + reason
	}
	return fmt.Sprintf("%.1f fps · %d dropped", fps, dropped)
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Preview enabled"
	}
	return "○ Preview disabled"
}
