// Package detect decodes the raw output tensors of an SCRFD face detector into
// scored five-point landmark detections.
package detect

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/landmark"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDecodeFailure is returned for malformed or empty detector output.
	ErrDecodeFailure = errors.New("detector output decode failure")
	// ErrNoDetectionAboveThreshold is returned when no anchor reaches the score threshold.
	ErrNoDetectionAboveThreshold = errors.New("no detection above threshold")
	// ErrAnchorMismatch is returned in strict mode when a level's anchor count
	// differs from the reconstructed grid.
	ErrAnchorMismatch = errors.New("anchor grid does not match tensor anchor count")
)

// AnchorPolicy controls how a mismatch between the reconstructed anchor grid and
// the tensor's anchor count is handled.
type AnchorPolicy string

const (
	// AnchorStrict fails the image with ErrAnchorMismatch.
	AnchorStrict AnchorPolicy = "strict"
	// AnchorReconcile truncates the grid, or pads it by repeating the last
	// center, and logs a warning. Padded anchors may carry misattributed offsets.
	AnchorReconcile AnchorPolicy = "reconcile"
)

// ParseAnchorPolicy parses a policy name; empty means strict.
func ParseAnchorPolicy(s string) (AnchorPolicy, error) {
	switch AnchorPolicy(s) {
	case "", AnchorStrict:
		return AnchorStrict, nil
	case AnchorReconcile:
		return AnchorReconcile, nil
	default:
		return "", fmt.Errorf("unknown anchor policy %q", s)
	}
}

// Detection is one decoded face candidate.
type Detection struct {
	Score     float32      `json:"score"`
	Landmarks landmark.Set `json:"landmarks"`
}

// Decoder turns raw SCRFD outputs into detections. A Decoder holds no state
// between calls and is safe for concurrent use.
type Decoder struct {
	Strides        []int
	AnchorsPerCell int
	Threshold      float32
	Policy         AnchorPolicy
	Log            logrus.FieldLogger
}

// NewDecoder returns a decoder with the standard SCRFD configuration.
func NewDecoder() *Decoder {
	return &Decoder{
		Strides:        constants.DetectorStrides,
		AnchorsPerCell: constants.AnchorsPerCell,
		Threshold:      constants.DefaultDetThreshold,
		Policy:         AnchorStrict,
	}
}

// Decode returns detections with score >= Threshold, sorted by score descending.
// Outputs are expected as classification tensors for every stride, then box
// tensors, then landmark tensors.
func (d *Decoder) Decode(outputs []Tensor, width, height int) ([]Detection, error) {
	all, err := d.Candidates(outputs, width, height)
	if err != nil {
		return nil, err
	}

	var dets []Detection
	for _, det := range all {
		if det.Score >= d.Threshold {
			dets = append(dets, det)
		}
	}
	if len(dets) == 0 {
		return nil, fmt.Errorf("%w (threshold %.2f)", ErrNoDetectionAboveThreshold, d.Threshold)
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Score > dets[j].Score
	})
	return dets, nil
}

// Candidates decodes every anchor of every stride level in output order,
// without filtering or ranking.
func (d *Decoder) Candidates(outputs []Tensor, width, height int) ([]Detection, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid image size %dx%d", ErrDecodeFailure, width, height)
	}
	levels := len(d.Strides)
	if levels == 0 {
		return nil, fmt.Errorf("%w: no stride levels configured", ErrDecodeFailure)
	}
	if len(outputs) < 3*levels {
		return nil, fmt.Errorf("%w: expected %d output tensors, got %d", ErrDecodeFailure, 3*levels, len(outputs))
	}

	var dets []Detection
	for i, stride := range d.Strides {
		level, err := d.decodeLevel(stride, outputs[i], outputs[levels+i], outputs[2*levels+i], width, height)
		if err != nil {
			return nil, err
		}
		dets = append(dets, level...)
	}

	if len(dets) == 0 {
		return nil, fmt.Errorf("%w: detector returned no anchors", ErrDecodeFailure)
	}
	return dets, nil
}

func (d *Decoder) decodeLevel(stride int, cls, box, lmk Tensor, width, height int) ([]Detection, error) {
	n, cols, err := cls.matrix()
	if err != nil {
		return nil, fmt.Errorf("%w: stride %d scores: %v", ErrDecodeFailure, stride, err)
	}
	if boxRows, _, err := box.matrix(); err != nil || boxRows != n {
		return nil, fmt.Errorf("%w: stride %d boxes do not match %d anchors", ErrDecodeFailure, stride, n)
	}
	if len(lmk.Data) != n*2*landmark.Count {
		return nil, fmt.Errorf("%w: stride %d landmarks have %d values, want %d",
			ErrDecodeFailure, stride, len(lmk.Data), n*2*landmark.Count)
	}

	centers := anchorCenters(stride, width, height, d.AnchorsPerCell)
	if len(centers) != n {
		if d.Policy != AnchorReconcile {
			return nil, fmt.Errorf("%w: stride %d grid has %d anchors, tensor has %d",
				ErrAnchorMismatch, stride, len(centers), n)
		}
		if d.Log != nil {
			d.Log.WithFields(logrus.Fields{
				"stride":   stride,
				"expected": len(centers),
				"actual":   n,
			}).Warn("anchor grid reconciled with tensor anchor count")
		}
		centers = fitAnchors(centers, n)
	}

	dets := make([]Detection, n)
	s := float64(stride)
	for j := range n {
		c := centers[j]
		raw := lmk.Data[j*2*landmark.Count:]
		var lm landmark.Set
		for k := range landmark.Count {
			lm[k] = landmark.Point{
				X: float64(raw[2*k])*s + c.X,
				Y: float64(raw[2*k+1])*s + c.Y,
			}
		}
		dets[j] = Detection{
			Score:     cls.Data[j*cols+cols-1],
			Landmarks: lm,
		}
	}
	return dets, nil
}

// anchorCenters tiles (x*stride, y*stride) over a ceil(W/stride) x ceil(H/stride)
// grid in row-major order, repeating each center perCell times.
func anchorCenters(stride, width, height, perCell int) []landmark.Point {
	featW := (width + stride - 1) / stride
	featH := (height + stride - 1) / stride
	perCell = max(perCell, 1)

	centers := make([]landmark.Point, 0, featW*featH*perCell)
	for y := range featH {
		for x := range featW {
			p := landmark.Point{X: float64(x * stride), Y: float64(y * stride)}
			for range perCell {
				centers = append(centers, p)
			}
		}
	}
	return centers
}

// fitAnchors truncates centers to n or pads it by repeating the last center.
func fitAnchors(centers []landmark.Point, n int) []landmark.Point {
	if len(centers) >= n {
		return centers[:n]
	}
	out := make([]landmark.Point, n)
	copy(out, centers)
	var last landmark.Point
	if len(centers) > 0 {
		last = centers[len(centers)-1]
	}
	for i := len(centers); i < n; i++ {
		out[i] = last
	}
	return out
}
