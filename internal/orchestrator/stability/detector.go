// Package stability decides when a camera feed has settled on a still card.
package stability

import (
	"errors"
	"sync"

	"github.com/GriffinCanCode/cardscan/internal/camera"
)

// Defaults for the stability gate.
const (
	DefaultThreshold = 0.02
	DefaultRunLength = 5
)

// ErrFrameMismatch is returned when comparing frames of different dimensions.
var ErrFrameMismatch = errors.New("frames differ in size")

// Difference returns the mean per-channel RGB difference of two frames in [0, 1].
// The sum of absolute RGB deltas is divided by len(Pix)·255·0.75, so the
// ignored alpha channel does not dilute the result.
func Difference(a, b *camera.Frame) (float64, error) {
	if a == nil || b == nil || !a.SameSize(b) {
		return 0, ErrFrameMismatch
	}
	if len(a.Pix) == 0 {
		return 0, nil
	}
	var sum uint64
	for i := 0; i+3 < len(a.Pix); i += 4 {
		sum += absDiff(a.Pix[i], b.Pix[i])
		sum += absDiff(a.Pix[i+1], b.Pix[i+1])
		sum += absDiff(a.Pix[i+2], b.Pix[i+2])
	}
	return float64(sum) / (float64(len(a.Pix)) * 255 * 0.75), nil
}

func absDiff(x, y byte) uint64 {
	if x > y {
		return uint64(x - y)
	}
	return uint64(y - x)
}

// Detector counts consecutive near-identical frames and reports a settle
// event once the run reaches RunLength.
type Detector struct {
	threshold float64
	runLength int

	mu     sync.Mutex
	last   *camera.Frame
	stable int
}

// NewDetector creates a detector; non-positive values select the defaults.
func NewDetector(threshold float64, runLength int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if runLength <= 0 {
		runLength = DefaultRunLength
	}
	return &Detector{threshold: threshold, runLength: runLength}
}

// Observe records a frame and returns true when the feed has just settled.
// The first frame after construction or Reset never settles. A frame whose
// size differs from the previous one counts as maximally different.
func (d *Detector) Observe(f *camera.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.last
	d.last = f
	if prev == nil {
		return false
	}

	diff, err := Difference(prev, f)
	if err != nil {
		diff = 1
	}
	if diff >= d.threshold {
		d.stable = 0
		return false
	}

	d.stable++
	if d.stable >= d.runLength {
		d.stable = 0
		return true
	}
	return false
}

// Reset forgets the previous frame and the running count.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.last = nil
	d.stable = 0
	d.mu.Unlock()
}
