// Package embedding holds face embedding vectors and the similarity helpers
// used by matching and registration.
package embedding

import (
	"errors"
	"math"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// ErrEmpty is returned when an aggregate is requested over no vectors.
var ErrEmpty = errors.New("no embeddings")

// ErrDimensionMismatch is returned when vectors of different lengths are combined.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Vector is a face embedding. Vectors produced by this package are unit length.
type Vector []float32

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns v scaled to unit length. Vectors already within
// NormTolerance of unit length are returned as a copy; zero vectors unchanged.
func Normalize(v []float32) Vector {
	out := make(Vector, len(v))
	copy(out, v)
	n := Norm(v)
	if n == 0 || math.Abs(n-1) <= constants.NormTolerance {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / n)
	}
	return out
}

// Cosine returns the cosine similarity of two unit vectors, which is their dot
// product. Vectors of different or zero length have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Distance returns the cosine distance 1 - Cosine(a, b).
func Distance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// Centroid returns the normalized mean of vs.
func Centroid(vs []Vector) (Vector, error) {
	if len(vs) == 0 {
		return nil, ErrEmpty
	}
	dim := len(vs[0])
	sum := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dim)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vs)))
	}
	return Normalize(mean), nil
}

// Consistent reports whether every pair of vectors has similarity >= minSim.
func Consistent(vs []Vector, minSim float64) bool {
	for i := range vs {
		for j := i + 1; j < len(vs); j++ {
			if Cosine(vs[i], vs[j]) < minSim {
				return false
			}
		}
	}
	return true
}

// Quality returns the mean similarity of vs to centroid.
func Quality(centroid Vector, vs []Vector) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += Cosine(centroid, v)
	}
	return sum / float64(len(vs))
}
