package align

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/kozaktomas/rollcall/internal/landmark"
)

func near(a, b landmark.Point, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol
}

func applyAll(t Transform, pts []landmark.Point) []landmark.Point {
	out := make([]landmark.Point, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return out
}

func TestEstimateSimilarity_RecoversTransform(t *testing.T) {
	tests := []struct {
		name  string
		truth Transform
	}{
		{"identity", Transform{A: 1}},
		{"translation", Transform{A: 1, Tx: 12, Ty: -7}},
		{"scale", Transform{A: 0.5, Tx: 3, Ty: 4}},
		{"rotation and scale", Transform{A: 1.5 * math.Cos(0.4), B: 1.5 * math.Sin(0.4), Tx: -20, Ty: 35}},
	}

	src := []landmark.Point{{X: 100, Y: 120}, {X: 160, Y: 118}, {X: 131, Y: 150}, {X: 108, Y: 185}, {X: 155, Y: 184}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := applyAll(tt.truth, src)

			got, err := EstimateSimilarity(src, dst)
			if err != nil {
				t.Fatalf("EstimateSimilarity() error = %v", err)
			}
			for i, p := range src {
				if q := got.Apply(p); !near(q, dst[i], 1e-6) {
					t.Errorf("Apply(%v) = %v, want %v", p, q, dst[i])
				}
			}
		})
	}
}

func TestEstimateSimilarity_IgnoresOneOutlier(t *testing.T) {
	truth := Transform{A: 0.8 * math.Cos(-0.2), B: 0.8 * math.Sin(-0.2), Tx: 5, Ty: 9}
	src := []landmark.Point{{X: 40, Y: 50}, {X: 72, Y: 50}, {X: 56, Y: 70}, {X: 42, Y: 90}, {X: 70, Y: 90}}
	dst := applyAll(truth, src)
	dst[2].X += 30
	dst[2].Y -= 25

	got, err := EstimateSimilarity(src, dst)
	if err != nil {
		t.Fatalf("EstimateSimilarity() error = %v", err)
	}
	for i, p := range src {
		if i == 2 {
			continue
		}
		if q := got.Apply(p); !near(q, dst[i], 1e-4) {
			t.Errorf("inlier %d mapped to %v, want %v", i, q, dst[i])
		}
	}
}

func TestEstimateSimilarity_Deterministic(t *testing.T) {
	src := []landmark.Point{{X: 40, Y: 50}, {X: 72, Y: 52}, {X: 55, Y: 71}, {X: 43, Y: 89}, {X: 69, Y: 91}}
	dst := ArcFaceTemplate.Points()

	first, err := EstimateSimilarity(src, dst)
	if err != nil {
		t.Fatalf("EstimateSimilarity() error = %v", err)
	}
	for range 10 {
		again, _ := EstimateSimilarity(src, dst)
		if again != first {
			t.Fatalf("EstimateSimilarity() = %+v, want %+v", again, first)
		}
	}
}

func TestEstimateSimilarity_Degenerate(t *testing.T) {
	same := landmark.Point{X: 10, Y: 10}
	tests := []struct {
		name string
		src  []landmark.Point
		dst  []landmark.Point
	}{
		{"coincident points", []landmark.Point{same, same, same, same, same}, ArcFaceTemplate.Points()},
		{"single point", []landmark.Point{same}, []landmark.Point{same}},
		{"length mismatch", ArcFaceTemplate.Points(), ArcFaceTemplate.Points()[:3]},
		{"nan", []landmark.Point{{X: math.NaN(), Y: 1}, {X: 2, Y: 3}}, []landmark.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}},
		{"inf", []landmark.Point{{X: 0, Y: 1}, {X: 2, Y: 3}}, []landmark.Point{{X: math.Inf(1), Y: 0}, {X: 1, Y: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EstimateSimilarity(tt.src, tt.dst)
			if !errors.Is(err, ErrTransformEstimation) {
				t.Errorf("EstimateSimilarity() error = %v, want %v", err, ErrTransformEstimation)
			}
		})
	}
}

func TestTransform_InvertRoundTrip(t *testing.T) {
	tr := Transform{A: 1.2 * math.Cos(1.1), B: 1.2 * math.Sin(1.1), Tx: 14, Ty: -3}
	inv, err := tr.Invert()
	if err != nil {
		t.Fatalf("Invert() error = %v", err)
	}

	for _, p := range ArcFaceTemplate {
		if q := inv.Apply(tr.Apply(p)); !near(q, p, 1e-9) {
			t.Errorf("round trip of %v = %v", p, q)
		}
	}
	if math.Abs(tr.Scale()*inv.Scale()-1) > 1e-9 {
		t.Errorf("Scale() * inverse Scale() = %v, want 1", tr.Scale()*inv.Scale())
	}

	if _, err := (Transform{}).Invert(); !errors.Is(err, ErrTransformEstimation) {
		t.Errorf("Invert() of zero transform error = %v, want %v", err, ErrTransformEstimation)
	}
}

func TestReflect(t *testing.T) {
	tests := []struct {
		i, n     int
		expected int
	}{
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 0},
		{-2, 5, 1},
		{5, 5, 4},
		{6, 5, 3},
		{10, 5, 0},
		{-7, 1, 0},
	}

	for _, tt := range tests {
		if got := reflect(tt.i, tt.n); got != tt.expected {
			t.Errorf("reflect(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.expected)
		}
	}
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 50, A: 255})
		}
	}
	return img
}

func TestWarp_Identity(t *testing.T) {
	img := gradient(8, 8)

	out, err := Warp(img, Transform{A: 1}, 8)
	if err != nil {
		t.Fatalf("Warp() error = %v", err)
	}
	for i := range img.Pix {
		if out.Pix[i] != img.Pix[i] {
			t.Fatalf("Pix[%d] = %d, want %d", i, out.Pix[i], img.Pix[i])
		}
	}
}

func TestWarp_ReflectsBorder(t *testing.T) {
	img := gradient(8, 8)

	// Patch x maps to source x-2, so columns 0 and 1 fall outside the source.
	out, err := Warp(img, Transform{A: 1, Tx: 2}, 8)
	if err != nil {
		t.Fatalf("Warp() error = %v", err)
	}

	expected := []uint8{10, 0, 0, 10, 20}
	for x, want := range expected {
		if got := out.RGBAAt(x, 3).R; got != want {
			t.Errorf("patch column %d = %d, want %d", x, got, want)
		}
	}
}

func TestWarp_Bilinear(t *testing.T) {
	img := gradient(8, 8)

	// Half-pixel shift averages neighbouring columns.
	out, err := Warp(img, Transform{A: 1, Tx: -0.5}, 4)
	if err != nil {
		t.Fatalf("Warp() error = %v", err)
	}
	if got := out.RGBAAt(1, 1).R; got != 15 {
		t.Errorf("R at (1,1) = %d, want 15", got)
	}
}

func TestAligner_TemplateLandmarks(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 112, 112))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 51, 255
	}

	face, err := NewAligner(112).Align(img, ArcFaceTemplate)
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if len(face.Pix) != 112*112*3 {
		t.Fatalf("len(Pix) = %d, want %d", len(face.Pix), 112*112*3)
	}

	want := []float32{1, -1, -0.6}
	for c, w := range want {
		if got := face.At(50, 60, c); math.Abs(float64(got-w)) > 1e-6 {
			t.Errorf("At(50, 60, %d) = %v, want %v", c, got, w)
		}
	}
}

func TestAligner_DegenerateLandmarks(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	var lm landmark.Set
	for i := range lm {
		lm[i] = landmark.Point{X: 20, Y: 20}
	}

	_, err := NewAligner(112).Align(img, lm)
	if !errors.Is(err, ErrTransformEstimation) {
		t.Errorf("Align() error = %v, want %v", err, ErrTransformEstimation)
	}
}

func TestFace_CHWAndImage(t *testing.T) {
	face := Face{Size: 2, Pix: []float32{
		-1, 0, 1, 1, 1, 1,
		-1, -1, -1, 0, 0, 0,
	}}

	chw := face.CHW()
	expected := []float32{-1, 1, -1, 0, 0, 1, -1, 0, 1, 1, -1, 0}
	for i, want := range expected {
		if chw[i] != want {
			t.Fatalf("CHW()[%d] = %v, want %v", i, chw[i], want)
		}
	}

	img := face.Image()
	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 0, G: 128, B: 255, A: 255}) {
		t.Errorf("Image() at (0,0) = %v", got)
	}
}
