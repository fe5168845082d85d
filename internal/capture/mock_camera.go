package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/stream"
)

// MockCamera plays back pre-recorded frames. It is used by tests and by the
// -mock run mode when no camera is reachable.
type MockCamera struct {
	frames   []*gocv.Mat
	index    int
	loop     bool
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

var _ stream.Source[*gocv.Mat] = (*MockCamera)(nil)

// NewMockCamera returns a MockCamera over frames. With loop set the frames
// repeat forever; otherwise the stream ends after the last one.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

// NewTestPattern builds a looping MockCamera of solid frames that cycle
// through a few colours, paced at fps.
func NewTestPattern(width, height, fps int) *MockCamera {
	colours := []gocv.Scalar{
		gocv.NewScalar(255, 0, 0, 0),
		gocv.NewScalar(0, 255, 0, 0),
		gocv.NewScalar(0, 0, 255, 0),
	}

	frames := make([]*gocv.Mat, 0, len(colours))
	for _, c := range colours {
		m := gocv.NewMatWithSizeFromScalar(c, height, width, gocv.MatTypeCV8UC3)
		frames = append(frames, &m)
	}

	cam := NewMockCamera(frames, true)
	if fps > 0 {
		cam.interval = time.Second / time.Duration(fps)
	}
	return cam
}

func (c *MockCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) Read(ctx context.Context) (*gocv.Mat, error) {
	if c.interval > 0 {
		select {
		case <-time.After(c.interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("%w: no frames loaded", stream.ErrEndOfStream)
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, stream.ErrEndOfStream
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close releases the recorded frames.
func (c *MockCamera) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		f.Close()
	}
	c.frames = nil
}
