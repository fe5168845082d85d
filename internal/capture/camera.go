// Package capture provides network camera sources backed by GoCV (OpenCV's
// FFmpeg backend).
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/stream"
)

// Default camera settings
const (
	DefaultProtocol = "tcp"
	DefaultHost     = "192.168.1.254"
	DefaultPort     = 9998
)

// OpenCV capture properties that gocv does not name.
const (
	propHWAcceleration gocv.VideoCaptureProperties = 50
	propDTSDelay       gocv.VideoCaptureProperties = 72

	// videoAccelerationAny lets OpenCV pick any available hardware decoder.
	videoAccelerationAny = 1
)

// DefaultParams are the FFmpeg demuxer options that keep decoder-side
// buffering to a minimum.
var DefaultParams = []string{
	"fflags=nobuffer",
	"flags=low_delay",
	"framedrop",
	"probesize=32",
	"sync=ext",
}

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Config describes where a network camera lives and how to decode it.
type Config struct {
	Protocol string
	Host     string
	Port     int

	// URL overrides Protocol, Host, Port and Params when set.
	URL string

	// Params are appended to the address as FFmpeg options.
	Params []string

	// HWAcceleration requests hardware decoding when available.
	HWAcceleration bool
}

// DefaultConfig returns the settings for a camera streaming raw H.264 over TCP.
func DefaultConfig() Config {
	return Config{
		Protocol:       DefaultProtocol,
		Host:           DefaultHost,
		Port:           DefaultPort,
		Params:         append([]string(nil), DefaultParams...),
		HWAcceleration: true,
	}
}

// Address returns the camera address without decoder options.
func (c Config) Address() string {
	if c.URL != "" {
		if i := strings.Index(c.URL, "?"); i >= 0 {
			return strings.TrimSuffix(c.URL[:i], "/")
		}
		return c.URL
	}
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}

// Locator returns the full address handed to the decoder.
func (c Config) Locator() string {
	if c.URL != "" {
		return c.URL
	}
	if len(c.Params) == 0 {
		return c.Address()
	}
	return c.Address() + "/?" + strings.Join(c.Params, "&")
}

// Camera reads frames from a network stream. It implements
// stream.Source[*gocv.Mat]; every Mat it returns belongs to the caller.
type Camera struct {
	config  Config
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
}

var _ stream.Source[*gocv.Mat] = (*Camera)(nil)

// NewCamera creates a Camera for the given config. Nothing is opened until
// Open is called, so construction is safe on any goroutine.
func NewCamera(config Config) *Camera {
	return &Camera{config: config}
}

// Open connects to the stream and applies low-latency decoder settings.
func (c *Camera) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCaptureWithAPI(c.config.Locator(), gocv.VideoCaptureFFmpeg)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.config.Address(), err)
	}

	capture.Set(gocv.VideoCaptureBufferSize, 0)
	capture.Set(propDTSDelay, 0)
	if c.config.HWAcceleration {
		capture.Set(propHWAcceleration, videoAccelerationAny)
	}

	c.capture = capture
	c.running = true

	return nil
}

// Read blocks until the decoder produces the next frame. A failed or empty
// read is reported as end of stream.
func (c *Camera) Read(ctx context.Context) (*gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, fmt.Errorf("%w: no frame from %s", stream.ErrEndOfStream, c.config.Address())
	}

	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: empty frame from %s", stream.ErrEndOfStream, c.config.Address())
	}

	return &mat, nil
}

// Release closes the stream. It is safe to call on a camera that never
// opened and to call more than once.
func (c *Camera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// IsOpen returns true if the camera is currently open.
func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// Address returns the camera address without decoder options.
func (c *Camera) Address() string {
	return c.config.Address()
}

// ReleaseMat closes a frame the consumer will never see. It is the release
// hook for sessions over gocv Mats.
func ReleaseMat(m *gocv.Mat) {
	if m != nil {
		m.Close()
	}
}
