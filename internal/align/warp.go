package align

import (
	"image"
	"math"
)

// Warp resamples img into a size x size RGBA patch. t maps source coordinates
// to patch coordinates. Sampling is bilinear; coordinates outside the source
// are reflected with the edge pixel repeated (fedcba|abcdef|fedcba).
func Warp(img *image.RGBA, t Transform, size int) (*image.RGBA, error) {
	inv, err := t.Invert()
	if err != nil {
		return nil, err
	}
	m := inv.Matrix()

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	if w == 0 || h == 0 {
		return out, nil
	}

	at := func(x, y, c int) float64 {
		x, y = reflect(x, w), reflect(y, h)
		return float64(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)+c])
	}

	for y := range size {
		for x := range size {
			fx, fy := float64(x), float64(y)
			sx := m[0]*fx + m[1]*fy + m[2]
			sy := m[3]*fx + m[4]*fy + m[5]

			x0, y0 := math.Floor(sx), math.Floor(sy)
			ax, ay := sx-x0, sy-y0
			ix, iy := int(x0), int(y0)

			o := out.PixOffset(x, y)
			for c := range 3 {
				top := at(ix, iy, c)*(1-ax) + at(ix+1, iy, c)*ax
				bot := at(ix, iy+1, c)*(1-ax) + at(ix+1, iy+1, c)*ax
				out.Pix[o+c] = clampByte(top*(1-ay) + bot*ay)
			}
			out.Pix[o+3] = 255
		}
	}
	return out, nil
}

// reflect maps i into [0, n) mirroring around the edges, edge included.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
