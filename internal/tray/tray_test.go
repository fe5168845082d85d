package tray

import "testing"

func TestTray_Toggle(t *testing.T) {
	tr := New(true)

	var got []bool
	tr.OnToggle(func(enabled bool) { got = append(got, enabled) })

	tr.handleToggle()
	tr.handleToggle()

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Errorf("toggle callbacks = %v, want [false true]", got)
	}
	if !tr.IsEnabled() {
		t.Error("two toggles should restore the initial state")
	}
}

func TestTray_Callbacks(t *testing.T) {
	tr := New(false)

	opened, quit := 0, 0
	tr.OnOpenPreview(func() { opened++ })
	tr.OnQuit(func() { quit++ })

	tr.handleOpenPreview()
	tr.handleQuit()

	if opened != 1 || quit != 1 {
		t.Errorf("opened = %d, quit = %d, want 1 and 1", opened, quit)
	}
}

func TestTray_NoCallbacks(t *testing.T) {
	tr := New(true)

	tr.handleToggle()
	tr.handleOpenPreview()
	tr.handleQuit()

	if tr.IsEnabled() {
		t.Error("toggle should still flip state without a callback")
	}
}

func TestTray_SetStatus(t *testing.T) {
	tr := New(true)
	if tr.Status() != "Connecting..." {
		t.Errorf("initial status = %q", tr.Status())
	}

	tr.SetStatus("29.8 fps · 0 dropped")
	if tr.Status() != "29.8 fps · 0 dropped" {
		t.Errorf("status = %q", tr.Status())
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		running bool
		fps     float64
		dropped uint64
		reason  string
		want    string
	}{
		{true, 29.84, 12, "running", "29.8 fps · 12 dropped"},
		{true, 0, 0, "running", "0.0 fps · 0 dropped"},
		{false, 0, 0, "", "Stopped"},
		{false, 0, 0, "running", "Stopped"},
		{false, 0, 3, "end_of_stream", "Stopped: end_of_stream"},
	}

	for _, tt := range tests {
		if got := FormatStatus(tt.running, tt.fps, tt.dropped, tt.reason); got != tt.want {
			t.Errorf("FormatStatus(%v, %v, %d, %q) = %q, want %q", tt.running, tt.fps, tt.dropped, tt.reason, got, tt.want)
		}
	}
}
