// Package camera provides camera frame capture and decoding
package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
)

// Frame is an immutable RGBA snapshot of one camera image.
// Pix holds 4 bytes per pixel in row order; Encoded keeps the bytes the frame
// was decoded from so a settled frame can be handed to OCR without re-encoding.
type Frame struct {
	Pix     []byte
	Width   int
	Height  int
	Encoded []byte
}

// FromImage converts any image into an RGBA frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Frame{Pix: rgba.Pix, Width: b.Dx(), Height: b.Dy()}
}

// Decode decodes a JPEG or PNG into a frame that remembers its encoded form.
func Decode(data []byte) (*Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	f := FromImage(img)
	f.Encoded = data
	return f, nil
}

// Image returns the frame as an *image.RGBA sharing the pixel buffer.
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{Pix: f.Pix, Stride: 4 * f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
}

// SameSize reports whether two frames have identical dimensions.
func (f *Frame) SameSize(o *Frame) bool {
	return f.Width == o.Width && f.Height == o.Height && len(f.Pix) == len(o.Pix)
}
