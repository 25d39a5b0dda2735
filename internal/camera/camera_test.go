package camera

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type stubBackend struct {
	data    [][]byte
	calls   int
	err     error
	cleaned bool
}

func (s *stubBackend) captureRaw() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	d := s.data[min(s.calls, len(s.data)-1)]
	s.calls++
	return d, nil
}

func (s *stubBackend) cleanup() { s.cleaned = true }

func TestDecode(t *testing.T) {
	data := encodePNG(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, 4, 3)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 3, f.Height)
	assert.Len(t, f.Pix, 4*4*3)
	assert.Equal(t, []byte{10, 20, 30, 255}, f.Pix[:4])
	assert.Equal(t, data, f.Encoded)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestFromImageSubImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	sub := src.SubImage(image.Rect(2, 2, 6, 5))

	f := FromImage(sub)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 3, f.Height)
	assert.Len(t, f.Pix, 4*4*3)
	assert.Equal(t, f.Width, f.Image().Bounds().Dx())
}

func TestSameSize(t *testing.T) {
	a := &Frame{Pix: make([]byte, 16), Width: 2, Height: 2}
	b := &Frame{Pix: make([]byte, 16), Width: 2, Height: 2}
	c := &Frame{Pix: make([]byte, 32), Width: 4, Height: 2}
	assert.True(t, a.SameSize(b))
	assert.False(t, a.SameSize(c))
}

func TestBaseCapturerReusesUnchangedFrame(t *testing.T) {
	red := encodePNG(t, color.RGBA{R: 255, A: 255}, 2, 2)
	blue := encodePNG(t, color.RGBA{B: 255, A: 255}, 2, 2)
	b := &stubBackend{data: [][]byte{red, red, blue}}
	c := newBase(b, "")

	f1, err := c.Capture()
	require.NoError(t, err)
	f2, err := c.Capture()
	require.NoError(t, err)
	f3, err := c.Capture()
	require.NoError(t, err)

	assert.Same(t, f1, f2, "identical bytes should reuse the decoded frame")
	assert.NotSame(t, f2, f3)
}

func TestBaseCapturerPropagatesErrors(t *testing.T) {
	c := newBase(&stubBackend{err: ErrNoBackend}, "")
	_, err := c.Capture()
	assert.True(t, errors.Is(err, ErrNoBackend))
}

func TestBaseCapturerCloseRemovesTempDir(t *testing.T) {
	dir := newTempDir()
	b := &stubBackend{}
	c := newBase(b, dir)

	c.Close()

	assert.True(t, b.cleaned)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
