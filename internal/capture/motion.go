package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion scoring constants
const (
	// DefaultMotionThreshold is the percentage of changed pixels that counts as motion.
	DefaultMotionThreshold = 1.0

	motionBlurKernel = 21
	motionPixelDelta = 25
)

// Motion is the result of comparing a frame against the previous one.
type Motion struct {
	Detected bool    `json:"detected"`
	Changed  float64 `json:"changed_percent"`
}

// MotionDetector scores consecutive frames by the share of pixels that
// changed. It gives consumers a cheap per-frame workload to run on the
// freshest frame.
type MotionDetector struct {
	mu        sync.Mutex
	threshold float64
	baseline  gocv.Mat
	primed    bool
}

// NewMotionDetector creates a MotionDetector. A threshold <= 0 selects
// DefaultMotionThreshold.
func NewMotionDetector(threshold float64) *MotionDetector {
	if threshold <= 0 {
		threshold = DefaultMotionThreshold
	}
	return &MotionDetector{
		threshold: threshold,
		baseline:  gocv.NewMat(),
	}
}

// Detect compares frame with the frame passed on the previous call. The
// first call only records a baseline and reports no motion.
func (m *MotionDetector) Detect(frame *gocv.Mat) Motion {
	if frame == nil || frame.Empty() {
		return Motion{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := smoothGray(frame)

	if !m.primed || current.Rows() != m.baseline.Rows() || current.Cols() != m.baseline.Cols() {
		m.swapBaseline(current)
		return Motion{}
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(current, m.baseline, &diff)
	gocv.Threshold(diff, &diff, motionPixelDelta, 255, gocv.ThresholdBinary)

	changed := 100 * float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols())
	m.swapBaseline(current)

	return Motion{Detected: changed > m.threshold, Changed: changed}
}

// swapBaseline takes ownership of next as the comparison baseline.
func (m *MotionDetector) swapBaseline(next gocv.Mat) {
	m.baseline.Close()
	m.baseline = next
	m.primed = true
}

// smoothGray returns a blurred single-channel copy of frame.
func smoothGray(frame *gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	gocv.GaussianBlur(gray, &gray, image.Pt(motionBlurKernel, motionBlurKernel), 0, 0, gocv.BorderDefault)
	return gray
}

// Reset forgets the baseline so the next frame starts a new comparison.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baseline.Close()
	m.baseline = gocv.NewMat()
	m.primed = false
}

// Close releases the baseline frame.
func (m *MotionDetector) Close() {
	m.Reset()
}
