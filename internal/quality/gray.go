package quality

import (
	"image"
)

// grayRegion converts the part of img inside r to 8-bit luma using the
// ITU-R BT.601 weights (0.299, 0.587, 0.114) in 14-bit fixed point.
func grayRegion(img *image.RGBA, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Bounds())
	g := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := range r.Dy() {
		src := img.Pix[img.PixOffset(r.Min.X, r.Min.Y+y):]
		dst := g.Pix[y*g.Stride:]
		for x := range r.Dx() {
			p := src[x*4 : x*4+3]
			dst[x] = uint8((uint32(p[0])*4899 + uint32(p[1])*9617 + uint32(p[2])*1868 + 8192) >> 14)
		}
	}
	return g
}

// meanVariance returns the mean and population variance of the gray pixels.
func meanVariance(g *image.Gray) (mean, variance float64) {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	n := float64(w * h)
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for y := range h {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			f := float64(v)
			sum += f
			sumSq += f * f
		}
	}
	mean = sum / n
	variance = sumSq/n - mean*mean
	return mean, max(variance, 0)
}

// laplacianVariance returns the variance of the 4-neighbour Laplacian of g,
// with reflect-101 borders.
func laplacianVariance(g *image.Gray) float64 {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	n := float64(w * h)
	if n == 0 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(g.Pix[reflect101(y, h)*g.Stride+reflect101(x, w)])
	}

	var sum, sumSq float64
	for y := range h {
		for x := range w {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	return max(sumSq/n-mean*mean, 0)
}

// reflect101 maps an out-of-range index back into [0, n) without repeating the edge: dcb|abcd|cba.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}
