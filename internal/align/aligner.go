package align

import (
	"fmt"
	"image"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/landmark"
)

// ArcFaceTemplate is the canonical landmark layout of a 112x112 ArcFace input.
var ArcFaceTemplate = landmark.Set{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// Face is an aligned face patch: Size x Size x 3 RGB values in [-1, 1],
// stored row-major in HWC order.
type Face struct {
	Size int
	Pix  []float32
}

// At returns channel c of the pixel at (x, y).
func (f Face) At(x, y, c int) float32 {
	return f.Pix[(y*f.Size+x)*3+c]
}

// CHW returns the patch in channel-first order.
func (f Face) CHW() []float32 {
	plane := f.Size * f.Size
	out := make([]float32, 3*plane)
	for i := range plane {
		for c := range 3 {
			out[c*plane+i] = f.Pix[i*3+c]
		}
	}
	return out
}

// Image converts the patch back to 8-bit RGBA.
func (f Face) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Size, f.Size))
	for i := range f.Size * f.Size {
		for c := range 3 {
			img.Pix[i*4+c] = clampByte((float64(f.Pix[i*3+c]) + 1) * 127.5)
		}
		img.Pix[i*4+3] = 255
	}
	return img
}

// Aligner warps detected faces onto the template. It holds only configuration
// and is safe for concurrent use.
type Aligner struct {
	template landmark.Set
	size     int
}

// NewAligner returns an aligner producing size x size patches. The ArcFace
// template is scaled when size differs from 112.
func NewAligner(size int) *Aligner {
	if size <= 0 {
		size = constants.AlignedSize
	}
	return &Aligner{
		template: ArcFaceTemplate.Scale(float64(size) / constants.AlignedSize),
		size:     size,
	}
}

// Size returns the patch side length.
func (a *Aligner) Size() int {
	return a.size
}

// Align estimates the landmark-to-template transform and resamples the face.
func (a *Aligner) Align(img *image.RGBA, lm landmark.Set) (Face, error) {
	t, err := EstimateSimilarity(lm.Points(), a.template.Points())
	if err != nil {
		return Face{}, err
	}
	patch, err := Warp(img, t, a.size)
	if err != nil {
		return Face{}, fmt.Errorf("failed to warp face: %w", err)
	}

	face := Face{Size: a.size, Pix: make([]float32, a.size*a.size*3)}
	for i := range a.size * a.size {
		for c := range 3 {
			face.Pix[i*3+c] = float32(patch.Pix[i*4+c])/127.5 - 1
		}
	}
	return face, nil
}
