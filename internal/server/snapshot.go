package server

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
)

// Snapshot limits.
const (
	maxSnapshotWidth     = 4096
	snapshotJPEGQuality  = 85
	snapshotCacheControl = "no-store"
)

// SnapshotHandler serves the latest preview frame as a single JPEG,
// optionally scaled down to ?width=N.
type SnapshotHandler struct {
	frames FrameSource
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(frames FrameSource) *SnapshotHandler {
	return &SnapshotHandler{frames: frames}
}

// ServeHTTP handles GET /api/snapshot.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	width := 0
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSnapshotWidth {
			http.Error(w, "width must be between 1 and 4096", http.StatusBadRequest)
			return
		}
		width = n
	}

	snap, ok := h.frames.Latest()
	if !ok {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Cache-Control", snapshotCacheControl)
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(snap.Seq, 10))

	if width == 0 {
		writeJPEG(w, snap.JPEG)
		return
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(snap.JPEG))
	if err != nil {
		http.Error(w, "Failed to decode frame", http.StatusInternalServerError)
		return
	}
	if width >= cfg.Width {
		writeJPEG(w, snap.JPEG)
		return
	}

	img, err := imaging.Decode(bytes.NewReader(snap.JPEG))
	if err != nil {
		http.Error(w, "Failed to decode frame", http.StatusInternalServerError)
		return
	}

	resized := imaging.Resize(img, width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(snapshotJPEGQuality)); err != nil {
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}

	writeJPEG(w, buf.Bytes())
}

func writeJPEG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}
