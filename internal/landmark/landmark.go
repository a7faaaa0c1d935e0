// Package landmark holds the five-point facial landmark geometry shared by the
// decoder, the quality gate and the aligner.
package landmark

import "math"

// Point is an image coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Index positions within a landmark Set.
const (
	LeftEye = iota
	RightEye
	Nose
	LeftMouth
	RightMouth
	Count
)

// Set is the fixed five-point layout produced by the detector:
// left eye, right eye, nose, left mouth corner, right mouth corner.
type Set [Count]Point

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeDistance returns the inter-eye distance.
func (s Set) EyeDistance() float64 {
	return Distance(s[LeftEye], s[RightEye])
}

// EyeCenter returns the midpoint between the eyes.
func (s Set) EyeCenter() Point {
	return Point{
		X: (s[LeftEye].X + s[RightEye].X) / 2,
		Y: (s[LeftEye].Y + s[RightEye].Y) / 2,
	}
}

// Bounds returns the axis-aligned box [minX, minY, maxX, maxY] around all points.
func (s Set) Bounds() [4]float64 {
	b := [4]float64{s[0].X, s[0].Y, s[0].X, s[0].Y}
	for _, p := range s[1:] {
		b[0] = min(b[0], p.X)
		b[1] = min(b[1], p.Y)
		b[2] = max(b[2], p.X)
		b[3] = max(b[3], p.Y)
	}
	return b
}

// Scale multiplies every coordinate by f.
func (s Set) Scale(f float64) Set {
	var out Set
	for i, p := range s {
		out[i] = Point{X: p.X * f, Y: p.Y * f}
	}
	return out
}

// Points returns the set as a slice.
func (s Set) Points() []Point {
	out := make([]Point, Count)
	copy(out, s[:])
	return out
}

// IsFinite reports whether every coordinate is a finite number.
func (s Set) IsFinite() bool {
	for _, p := range s {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return false
		}
	}
	return true
}

// ratio returns min(a,b)/max(a,b), or 0 when both are zero.
func ratio(a, b float64) float64 {
	hi := max(a, b)
	if hi == 0 {
		return 0
	}
	return min(a, b) / hi
}

// EyeSymmetry is the ratio of the shorter to the longer nose-to-eye distance.
func (s Set) EyeSymmetry() float64 {
	return ratio(Distance(s[Nose], s[LeftEye]), Distance(s[Nose], s[RightEye]))
}

// MouthSymmetry is the ratio of the shorter to the longer nose-to-mouth-corner distance.
func (s Set) MouthSymmetry() float64 {
	return ratio(Distance(s[Nose], s[LeftMouth]), Distance(s[Nose], s[RightMouth]))
}

// FrontalScore averages eye and mouth symmetry; 1.0 is a perfectly frontal face.
func (s Set) FrontalScore() float64 {
	return (s.EyeSymmetry() + s.MouthSymmetry()) / 2
}
