// Package quality decides whether a detected face is usable for recognition.
// Every check runs independently and contributes its own reason, so callers
// always receive full diagnostics.
package quality

import (
	"fmt"
	"image"
	"slices"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/landmark"
)

// Metric names reported in Report.Metrics.
const (
	MetricEyeDistance  = "eye_distance"
	MetricNoseOffset   = "nose_offset_ratio"
	MetricEyeSymmetry  = "eye_symmetry"
	MetricBrightness   = "brightness"
	MetricBlurScore    = "blur_score"
	MetricEyeVariance  = "eye_region_variance"
	MetricNoseVariance = "nose_region_variance"
)

// Thresholds configures the gate.
type Thresholds struct {
	MinEyeDistance    float64 `yaml:"min_eye_distance" json:"min_eye_distance"`
	MaxNoseOffset     float64 `yaml:"max_nose_offset" json:"max_nose_offset"`
	MinEyeSymmetry    float64 `yaml:"min_eye_symmetry" json:"min_eye_symmetry"`
	EdgeMargin        float64 `yaml:"edge_margin" json:"edge_margin"`
	MinBrightness     float64 `yaml:"min_brightness" json:"min_brightness"`
	MaxBrightness     float64 `yaml:"max_brightness" json:"max_brightness"`
	MinBlurScore      float64 `yaml:"min_blur_score" json:"min_blur_score"`
	MinRegionVariance float64 `yaml:"min_region_variance" json:"min_region_variance"`
	RegionRadius      int     `yaml:"region_radius" json:"region_radius"`
}

// DefaultThresholds returns the standard gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinEyeDistance:    constants.MinEyeDistance,
		MaxNoseOffset:     constants.MaxNoseOffset,
		MinEyeSymmetry:    constants.MinEyeSymmetry,
		EdgeMargin:        constants.EdgeMargin,
		MinBrightness:     constants.MinBrightness,
		MaxBrightness:     constants.MaxBrightness,
		MinBlurScore:      constants.MinBlurScore,
		MinRegionVariance: constants.MinRegionVariance,
		RegionRadius:      constants.RegionRadius,
	}
}

// Report is the immutable outcome of checking one face.
type Report struct {
	Accepted bool               `json:"accepted"`
	Metrics  map[string]float64 `json:"metrics"`
	Reasons  []string           `json:"reasons,omitempty"`
}

// finding is the value produced by a single check. Its methods return
// modified copies so checks never share an accumulator.
type finding struct {
	metrics []metric
	reasons []string
}

type metric struct {
	name  string
	value float64
}

func (f finding) measure(name string, v float64) finding {
	f.metrics = append(slices.Clip(f.metrics), metric{name: name, value: v})
	return f
}

func (f finding) failIf(cond bool, format string, args ...any) finding {
	if cond {
		f.reasons = append(slices.Clip(f.reasons), fmt.Sprintf(format, args...))
	}
	return f
}

// newReport folds findings, in order, into a report.
func newReport(findings ...finding) Report {
	r := Report{Metrics: make(map[string]float64)}
	for _, f := range findings {
		for _, m := range f.metrics {
			r.Metrics[m.name] = m.value
		}
		r.Reasons = append(r.Reasons, f.reasons...)
	}
	r.Accepted = len(r.Reasons) == 0
	return r
}

// Gate evaluates face quality. It holds only configuration and is safe for concurrent use.
type Gate struct {
	th Thresholds
}

// NewGate creates a gate with the given thresholds.
func NewGate(th Thresholds) *Gate {
	return &Gate{th: th}
}

// Thresholds returns the gate configuration.
func (g *Gate) Thresholds() Thresholds {
	return g.th
}

// sample carries the per-face values shared between checks.
type sample struct {
	img     *image.RGBA
	lm      landmark.Set
	eyeDist float64
	crop    image.Rectangle
}

// Check runs every check against the face described by lm. It never fails;
// a face is accepted when no check produced a reason.
func (g *Gate) Check(img *image.RGBA, lm landmark.Set) Report {
	s := sample{img: img, lm: lm, eyeDist: lm.EyeDistance()}
	s.crop = faceCrop(img.Bounds(), lm, s.eyeDist)

	findings := []finding{
		g.checkScale(s),
		g.checkPose(s),
		g.checkFraming(s),
	}
	if !s.crop.Empty() {
		gray := grayRegion(img, s.crop)
		findings = append(findings,
			g.checkExposure(gray),
			g.checkSharpness(gray),
			g.checkOcclusion(s),
		)
	}
	return newReport(findings...)
}

func (g *Gate) checkScale(s sample) finding {
	return finding{}.
		measure(MetricEyeDistance, s.eyeDist).
		failIf(s.eyeDist < g.th.MinEyeDistance, "Too small (eye_dist=%.1fpx)", s.eyeDist)
}

func (g *Gate) checkPose(s sample) finding {
	var offset float64
	if s.eyeDist > 0 {
		nose := s.lm[landmark.Nose]
		d := nose.X - s.lm.EyeCenter().X
		if d < 0 {
			d = -d
		}
		offset = d / s.eyeDist
	}
	symmetry := s.lm.EyeSymmetry()

	return finding{}.
		measure(MetricNoseOffset, offset).
		failIf(offset > g.th.MaxNoseOffset, "Side profile (offset=%.2f)", offset).
		measure(MetricEyeSymmetry, symmetry).
		failIf(symmetry < g.th.MinEyeSymmetry, "Asymmetric (symmetry=%.2f)", symmetry)
}

func (g *Gate) checkFraming(s sample) finding {
	b := s.lm.Bounds()
	w, h := float64(s.img.Bounds().Dx()), float64(s.img.Bounds().Dy())
	m := g.th.EdgeMargin
	near := b[0] < m || b[1] < m || b[2] > w-m || b[3] > h-m
	return finding{}.failIf(near, "Near edge")
}

func (g *Gate) checkExposure(gray *image.Gray) finding {
	mean, _ := meanVariance(gray)
	return finding{}.
		measure(MetricBrightness, mean).
		failIf(mean < g.th.MinBrightness, "Too dark (%.0f)", mean).
		failIf(mean > g.th.MaxBrightness, "Overexposed (%.0f)", mean)
}

func (g *Gate) checkSharpness(gray *image.Gray) finding {
	score := laplacianVariance(gray)
	return finding{}.
		measure(MetricBlurScore, score).
		failIf(score < g.th.MinBlurScore, "Blurry (score=%.0f)", score)
}

func (g *Gate) checkOcclusion(s sample) finding {
	eyes := (g.regionVariance(s.img, s.lm[landmark.LeftEye]) + g.regionVariance(s.img, s.lm[landmark.RightEye])) / 2
	nose := g.regionVariance(s.img, s.lm[landmark.Nose])

	return finding{}.
		measure(MetricEyeVariance, eyes).
		measure(MetricNoseVariance, nose).
		failIf(eyes < g.th.MinRegionVariance, "Eyes occluded").
		failIf(nose < g.th.MinRegionVariance, "Nose occluded")
}

// regionVariance returns the gray variance of the window [p-r, p+r) clamped to
// the image, or 0 when the window is empty.
func (g *Gate) regionVariance(img *image.RGBA, p landmark.Point) float64 {
	r := g.th.RegionRadius
	x, y := int(p.X), int(p.Y)
	win := image.Rect(x-r, y-r, x+r, y+r).Intersect(img.Bounds())
	if win.Empty() {
		return 0
	}
	_, v := meanVariance(grayRegion(img, win))
	return v
}

// faceCrop returns the landmark box widened by fractions of the eye distance,
// clamped to bounds.
func faceCrop(bounds image.Rectangle, lm landmark.Set, eyeDist float64) image.Rectangle {
	b := lm.Bounds()
	xm := int(eyeDist * constants.CropMarginX)
	ym := int(eyeDist * constants.CropMarginY)
	r := image.Rect(int(b[0])-xm, int(b[1])-ym, int(b[2])+xm, int(b[3])+ym)
	return r.Intersect(bounds)
}
