package api

import (
	"encoding/json"
	"net/http"
)

// Toggle is anything that can switch the preview on and off.
type Toggle interface {
	IsEnabled() bool
	SetEnabled(enabled bool)
}

// PreviewHandler reads and sets whether frames are published to the
// preview. Capture is unaffected.
type PreviewHandler struct {
	toggle Toggle
}

// NewPreviewHandler creates a new PreviewHandler.
func NewPreviewHandler(t Toggle) *PreviewHandler {
	return &PreviewHandler{toggle: t}
}

type previewState struct {
	Enabled *bool `json:"enabled"`
}

// ServeHTTP handles GET and PUT /api/preview.
func (h *PreviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req previewState
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled is required")
			return
		}
		h.toggle.SetEnabled(*req.Enabled)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	enabled := h.toggle.IsEnabled()
	writeJSON(w, http.StatusOK, previewState{Enabled: &enabled})
}
