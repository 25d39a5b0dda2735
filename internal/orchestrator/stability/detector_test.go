package stability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/cardscan/internal/camera"
)

func solidFrame(w, h int, r, g, b byte) *camera.Frame {
	pix := make([]byte, 4*w*h)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 255
	}
	return &camera.Frame{Pix: pix, Width: w, Height: h}
}

func TestDifferenceIdentical(t *testing.T) {
	d, err := Difference(solidFrame(4, 4, 10, 20, 30), solidFrame(4, 4, 10, 20, 30))
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestDifferenceOpposite(t *testing.T) {
	d, err := Difference(solidFrame(4, 4, 0, 0, 0), solidFrame(4, 4, 255, 255, 255))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-9)
}

func TestDifferenceIgnoresAlpha(t *testing.T) {
	a := solidFrame(2, 2, 50, 50, 50)
	b := solidFrame(2, 2, 50, 50, 50)
	for i := 3; i < len(b.Pix); i += 4 {
		b.Pix[i] = 0
	}
	d, err := Difference(a, b)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestDifferenceMismatch(t *testing.T) {
	_, err := Difference(solidFrame(2, 2, 0, 0, 0), solidFrame(3, 2, 0, 0, 0))
	assert.True(t, errors.Is(err, ErrFrameMismatch))

	_, err = Difference(nil, solidFrame(1, 1, 0, 0, 0))
	assert.True(t, errors.Is(err, ErrFrameMismatch))
}

func TestObserveSettlesAfterRun(t *testing.T) {
	d := NewDetector(0, 0)
	f := solidFrame(8, 8, 100, 100, 100)

	assert.False(t, d.Observe(f), "first frame never settles")

	settled := 0
	for i := 0; i < DefaultRunLength; i++ {
		if d.Observe(f) {
			settled++
		}
	}
	assert.Equal(t, 1, settled, "one baseline plus five identical frames settle exactly once")
	assert.Zero(t, d.stable, "count resets after settle")
}

func TestObserveSettlesOnFifthStableFrame(t *testing.T) {
	d := NewDetector(0.02, 5)
	f := solidFrame(8, 8, 100, 100, 100)
	d.Observe(f)
	for i := 1; i < 5; i++ {
		require.False(t, d.Observe(f), "frame %d", i)
	}
	assert.True(t, d.Observe(f))
}

func TestObserveAlternatingNeverSettles(t *testing.T) {
	d := NewDetector(0.02, 5)
	black := solidFrame(8, 8, 0, 0, 0)
	white := solidFrame(8, 8, 255, 255, 255)

	for i := 0; i < 50; i++ {
		f := black
		if i%2 == 1 {
			f = white
		}
		assert.False(t, d.Observe(f))
	}
}

func TestObserveSmallNoiseCountsAsStable(t *testing.T) {
	d := NewDetector(0.02, 3)
	a := solidFrame(8, 8, 100, 100, 100)
	b := solidFrame(8, 8, 102, 101, 100) // ~0.4% difference

	d.Observe(a)
	d.Observe(b)
	d.Observe(a)
	assert.True(t, d.Observe(b))
}

func TestObserveMismatchResetsRun(t *testing.T) {
	d := NewDetector(0.02, 3)
	small := solidFrame(4, 4, 1, 1, 1)
	big := solidFrame(8, 8, 1, 1, 1)

	d.Observe(small)
	d.Observe(small)
	d.Observe(small)
	assert.Equal(t, 2, d.stable)

	assert.False(t, d.Observe(big))
	assert.Zero(t, d.stable)
}

func TestResetClearsState(t *testing.T) {
	d := NewDetector(0.02, 2)
	f := solidFrame(4, 4, 9, 9, 9)
	d.Observe(f)
	d.Observe(f)
	require.Equal(t, 1, d.stable)

	d.Reset()

	assert.Zero(t, d.stable)
	assert.Nil(t, d.last)
	assert.False(t, d.Observe(f), "first frame after reset never settles")
	assert.False(t, d.Observe(f), "one stable frame is short of the run")
	assert.True(t, d.Observe(f))
}
