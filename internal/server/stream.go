package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// StreamHandler serves the preview as MJPEG. Each client follows the
// preview independently and skips frames it is too slow to send.
type StreamHandler struct {
	frames FrameSource
	log    *zap.Logger
}

// NewStreamHandler creates a new StreamHandler over the given frames.
func NewStreamHandler(frames FrameSource, log *zap.Logger) *StreamHandler {
	return &StreamHandler{frames: frames, log: log}
}

// ServeHTTP streams MJPEG frames until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	h.log.Debug("stream client connected", zap.String("remote", r.RemoteAddr))
	defer h.log.Debug("stream client disconnected", zap.String("remote", r.RemoteAddr))

	var version uint64
	for {
		snap, err := h.frames.Next(r.Context(), version)
		if err != nil {
			return
		}
		version = snap.Version

		if err := writePart(w, snap.JPEG); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// writePart writes one multipart JPEG part.
func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
