package detect

import (
	"fmt"
	"image"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// Tensor is a dense float32 array in row-major order, as exchanged with the
// inference service.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Size returns the number of elements implied by the shape.
func (t Tensor) Size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// matrix views the tensor as rows x cols, dropping a leading batch dimension of 1.
func (t Tensor) matrix() (rows, cols int, err error) {
	shape := t.Shape
	if len(shape) == 3 {
		if shape[0] != 1 {
			return 0, 0, fmt.Errorf("unsupported batch size %d", shape[0])
		}
		shape = shape[1:]
	}

	switch len(shape) {
	case 1:
		rows, cols = shape[0], 1
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return 0, 0, fmt.Errorf("unsupported tensor rank %d", len(t.Shape))
	}

	if rows < 0 || cols <= 0 {
		return 0, 0, fmt.Errorf("invalid tensor shape %v", t.Shape)
	}
	if rows*cols != len(t.Data) {
		return 0, 0, fmt.Errorf("shape %v needs %d values, got %d", t.Shape, rows*cols, len(t.Data))
	}
	return rows, cols, nil
}

// Preprocess converts an RGBA image into the detector input tensor:
// (pixel - 127.5) / 128, channel-first, with a batch dimension of 1.
func Preprocess(img *image.RGBA) Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := range h {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := range w {
			px := row[x*4 : x*4+3]
			i := y*w + x
			data[i] = (float32(px[0]) - constants.DetectorMean) / constants.DetectorScale
			data[plane+i] = (float32(px[1]) - constants.DetectorMean) / constants.DetectorScale
			data[2*plane+i] = (float32(px[2]) - constants.DetectorMean) / constants.DetectorScale
		}
	}

	return Tensor{Shape: []int{1, 3, h, w}, Data: data}
}
