// Package align maps a detected face onto the canonical ArcFace frame.
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kozaktomas/rollcall/internal/landmark"
	"golang.org/x/image/math/f64"
)

// ErrTransformEstimation is returned when no similarity transform can be
// estimated from the landmark configuration.
var ErrTransformEstimation = errors.New("transform estimation failed")

// Transform is a 4-DOF similarity (rotation, uniform scale, translation):
//
//	x' = A*x - B*y + Tx
//	y' = B*x + A*y + Ty
type Transform struct {
	A, B, Tx, Ty float64
}

// Apply maps p through the transform.
func (t Transform) Apply(p landmark.Point) landmark.Point {
	return landmark.Point{
		X: t.A*p.X - t.B*p.Y + t.Tx,
		Y: t.B*p.X + t.A*p.Y + t.Ty,
	}
}

// Scale returns the uniform scale factor.
func (t Transform) Scale() float64 {
	return math.Hypot(t.A, t.B)
}

// Matrix returns the transform as a 2x3 affine matrix.
func (t Transform) Matrix() f64.Aff3 {
	return f64.Aff3{
		t.A, -t.B, t.Tx,
		t.B, t.A, t.Ty,
	}
}

// Invert returns the inverse transform.
func (t Transform) Invert() (Transform, error) {
	det := t.A*t.A + t.B*t.B
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Transform{}, fmt.Errorf("%w: singular transform", ErrTransformEstimation)
	}
	a, b := t.A/det, -t.B/det
	return Transform{
		A:  a,
		B:  b,
		Tx: -(a*t.Tx - b*t.Ty),
		Ty: -(b*t.Tx + a*t.Ty),
	}, nil
}

// lmedsConfidence scales the median residual into an inlier threshold.
const lmedsConfidence = 2.5 * 1.4826

// EstimateSimilarity fits the similarity transform mapping src onto dst with a
// least-median-of-squares search over every point pair, then refines the best
// candidate by least squares over its inliers. The search is exhaustive, so the
// result is deterministic.
func EstimateSimilarity(src, dst []landmark.Point) (Transform, error) {
	n := len(src)
	if n != len(dst) {
		return Transform{}, fmt.Errorf("%w: %d source points, %d target points", ErrTransformEstimation, n, len(dst))
	}
	if n < 2 {
		return Transform{}, fmt.Errorf("%w: need at least 2 points, got %d", ErrTransformEstimation, n)
	}
	for i := range n {
		if !finite(src[i]) || !finite(dst[i]) {
			return Transform{}, fmt.Errorf("%w: non-finite point %d", ErrTransformEstimation, i)
		}
	}

	var (
		best       Transform
		bestMedian = math.Inf(1)
		found      bool
		residuals  = make([]float64, n)
	)
	for i := range n {
		for j := i + 1; j < n; j++ {
			t, ok := fromPair(src[i], src[j], dst[i], dst[j])
			if !ok {
				continue
			}
			med := medianResidual(t, src, dst, residuals)
			if med < bestMedian {
				best, bestMedian, found = t, med, true
			}
		}
	}
	if !found {
		return Transform{}, fmt.Errorf("%w: landmarks are degenerate", ErrTransformEstimation)
	}
	if n <= 2 {
		return best, nil
	}

	thr := lmedsConfidence * (1 + 5.0/float64(n-2)) * math.Sqrt(bestMedian)
	var inSrc, inDst []landmark.Point
	for k := range n {
		if residual(best, src[k], dst[k]) <= thr*thr {
			inSrc = append(inSrc, src[k])
			inDst = append(inDst, dst[k])
		}
	}
	if refined, ok := leastSquares(inSrc, inDst); ok {
		return refined, nil
	}
	return best, nil
}

// fromPair solves the similarity mapping two source points exactly onto two targets.
func fromPair(s1, s2, d1, d2 landmark.Point) (Transform, bool) {
	sx, sy := s2.X-s1.X, s2.Y-s1.Y
	dx, dy := d2.X-d1.X, d2.Y-d1.Y
	den := sx*sx + sy*sy
	if den < 1e-12 {
		return Transform{}, false
	}
	a := (sx*dx + sy*dy) / den
	b := (sx*dy - sy*dx) / den
	return Transform{
		A:  a,
		B:  b,
		Tx: d1.X - a*s1.X + b*s1.Y,
		Ty: d1.Y - b*s1.X - a*s1.Y,
	}, true
}

// leastSquares fits a similarity to all point pairs in closed form.
func leastSquares(src, dst []landmark.Point) (Transform, bool) {
	n := float64(len(src))
	if len(src) < 2 {
		return Transform{}, false
	}
	var msx, msy, mdx, mdy float64
	for i := range src {
		msx += src[i].X
		msy += src[i].Y
		mdx += dst[i].X
		mdy += dst[i].Y
	}
	msx, msy, mdx, mdy = msx/n, msy/n, mdx/n, mdy/n

	var num1, num2, den float64
	for i := range src {
		sx, sy := src[i].X-msx, src[i].Y-msy
		dx, dy := dst[i].X-mdx, dst[i].Y-mdy
		num1 += sx*dx + sy*dy
		num2 += sx*dy - sy*dx
		den += sx*sx + sy*sy
	}
	if den < 1e-12 {
		return Transform{}, false
	}
	a, b := num1/den, num2/den
	return Transform{
		A:  a,
		B:  b,
		Tx: mdx - a*msx + b*msy,
		Ty: mdy - b*msx - a*msy,
	}, true
}

// residual returns the squared reprojection error of one correspondence.
func residual(t Transform, s, d landmark.Point) float64 {
	p := t.Apply(s)
	dx, dy := p.X-d.X, p.Y-d.Y
	return dx*dx + dy*dy
}

func medianResidual(t Transform, src, dst []landmark.Point, buf []float64) float64 {
	for k := range src {
		buf[k] = residual(t, src[k], dst[k])
	}
	sort.Float64s(buf)
	return buf[len(buf)/2]
}

func finite(p landmark.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
