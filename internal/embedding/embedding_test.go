package embedding

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected []float32
	}{
		{"already unit", []float32{1, 0, 0}, []float32{1, 0, 0}},
		{"scaled", []float32{3, 4}, []float32{0.6, 0.8}},
		{"zero", []float32{0, 0, 0}, []float32{0, 0, 0}},
		{"negative", []float32{0, -2}, []float32{0, -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.input)
			for i := range tt.expected {
				if math.Abs(float64(result[i]-tt.expected[i])) > 0.0001 {
					t.Errorf("Normalize(%v) = %v, want %v", tt.input, result, tt.expected)
					break
				}
			}
		})
	}
}

func TestNormalize_DoesNotAlias(t *testing.T) {
	in := []float32{3, 4}
	out := Normalize(in)
	out[0] = 99
	if in[0] != 3 {
		t.Errorf("Normalize modified its input: %v", in)
	}
}

func TestCosine(t *testing.T) {
	a := Normalize([]float32{0.3, -0.2, 0.9, 0.1})
	b := Normalize([]float32{-0.5, 0.4, 0.2, 0.7})

	if s := Cosine(a, a); math.Abs(s-1) > 1e-5 {
		t.Errorf("Cosine(a, a) = %v, want 1", s)
	}
	if Cosine(a, b) != Cosine(b, a) {
		t.Errorf("Cosine is not symmetric: %v vs %v", Cosine(a, b), Cosine(b, a))
	}

	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("Cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	if d := Distance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 0.0001 {
		t.Errorf("Distance() = %v, want 1", d)
	}
}

func TestCentroid(t *testing.T) {
	c, err := Centroid([]Vector{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("Centroid() error = %v", err)
	}
	want := float32(1 / math.Sqrt2)
	if math.Abs(float64(c[0]-want)) > 0.0001 || math.Abs(float64(c[1]-want)) > 0.0001 {
		t.Errorf("Centroid() = %v, want [%v %v]", c, want, want)
	}
	if math.Abs(Norm(c)-1) > 1e-6 {
		t.Errorf("Norm(centroid) = %v, want 1", Norm(c))
	}

	if _, err := Centroid(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Centroid(nil) error = %v, want %v", err, ErrEmpty)
	}
	if _, err := Centroid([]Vector{{1, 0}, {1, 0, 0}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Centroid(mixed) error = %v, want %v", err, ErrDimensionMismatch)
	}
}

func TestConsistentAndQuality(t *testing.T) {
	close1 := Normalize([]float32{1, 0.1})
	close2 := Normalize([]float32{1, -0.1})
	far := Vector{0, 1}

	if !Consistent([]Vector{close1, close2}, 0.5) {
		t.Error("expected close vectors to be consistent")
	}
	if Consistent([]Vector{close1, close2, far}, 0.5) {
		t.Error("expected orthogonal vector to break consistency")
	}
	if !Consistent([]Vector{close1}, 0.5) {
		t.Error("a single vector is trivially consistent")
	}

	vs := []Vector{close1, close2}
	c, _ := Centroid(vs)
	want := Cosine(c, close1)
	if q := Quality(c, vs); math.Abs(q-want) > 0.0001 {
		t.Errorf("Quality() = %v, want %v", q, want)
	}
	if q := Quality(c, nil); q != 0 {
		t.Errorf("Quality(nil) = %v, want 0", q)
	}
}
