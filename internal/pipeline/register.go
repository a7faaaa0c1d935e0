package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/rollcall/internal/align"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/landmark"
	"github.com/sirupsen/logrus"
)

// Enrollment statuses.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
)

// Verification statuses.
const (
	StatusVerified    = "verified"
	StatusNotVerified = "not_verified"
)

var (
	// ErrNotEnoughFaces is returned when fewer than two enrollment photos yield an embedding.
	ErrNotEnoughFaces = errors.New("not enough usable faces")
	// ErrNotFrontal is returned for enrollment photos whose face is turned away.
	ErrNotFrontal = errors.New("face is not frontal")
)

// Enrollment is the result of registering one student.
type Enrollment struct {
	StudentID       string           `json:"student_id"`
	Embedding       embedding.Vector `json:"embedding"`
	ImagesProcessed int              `json:"num_images_processed"`
	FacesUsed       int              `json:"num_faces_detected"`
	Consistent      bool             `json:"embeddings_consistent"`
	Quality         float64          `json:"average_quality_score"`
	Status          string           `json:"status"`
	Message         string           `json:"message,omitempty"`
	Failures        []ImageError     `json:"failures,omitempty"`
}

// Verification is the result of comparing a photo against a stored embedding.
type Verification struct {
	Similarity float64 `json:"similarity"`
	IsMatch    bool    `json:"is_match"`
	Threshold  float64 `json:"threshold"`
	Status     string  `json:"status"`
}

// Register builds a student's reference embedding from 2-4 photos, each
// expected to show the student alone and facing the camera. The centroid of
// the per-photo embeddings is returned together with consistency diagnostics.
func (o *Orchestrator) Register(ctx context.Context, studentID string, imgs []*image.RGBA) (*Enrollment, error) {
	if n := len(imgs); n < constants.MinRegistrationImages || n > constants.MaxRegistrationImages {
		return nil, fmt.Errorf("%w: got %d, need %d-%d", ErrImageCount, n, constants.MinRegistrationImages, constants.MaxRegistrationImages)
	}
	l := o.log.WithField("student_id", studentID)

	e := &Enrollment{StudentID: studentID, ImagesProcessed: len(imgs)}
	var vecs []embedding.Vector
	for i, img := range imgs {
		v, err := o.enrollFace(ctx, img)
		if err != nil {
			l.WithError(err).WithField("image", i).Warn("enrollment photo rejected")
			e.Failures = append(e.Failures, ImageError{ImageIndex: i, Error: err.Error()})
			continue
		}
		vecs = append(vecs, v)
	}
	if len(vecs) < constants.MinRegistrationImages {
		return e, fmt.Errorf("%w: %d of %d photos usable", ErrNotEnoughFaces, len(vecs), len(imgs))
	}

	centroid, err := embedding.Centroid(vecs)
	if err != nil {
		return e, fmt.Errorf("computing centroid: %w", err)
	}

	e.Embedding = centroid
	e.FacesUsed = len(vecs)
	e.Consistent = embedding.Consistent(vecs, constants.MinConsistency)
	e.Quality = round(embedding.Quality(centroid, vecs), 3)
	e.Status = StatusSuccess
	if !e.Consistent {
		e.Status = StatusWarning
		e.Message = "Embeddings show low consistency. Consider retaking photos."
	}

	l.WithFields(logrus.Fields{
		"faces":   e.FacesUsed,
		"quality": e.Quality,
		"status":  e.Status,
	}).Info("student enrolled")
	return e, nil
}

// enrollFace embeds the highest-scoring face of img after a frontal pose check.
func (o *Orchestrator) enrollFace(ctx context.Context, img *image.RGBA) (embedding.Vector, error) {
	dets, err := o.detectFaces(ctx, img)
	if err != nil {
		return nil, err
	}
	lm := dets[0].Landmarks
	if score := lm.FrontalScore(); score < constants.MinFrontalScore {
		return nil, fmt.Errorf("%w (symmetry %.2f)", ErrNotFrontal, score)
	}
	return o.embedOne(ctx, img, lm)
}

// Verify compares the highest-scoring face of img with a stored embedding.
// A threshold <= 0 selects the default.
func (o *Orchestrator) Verify(ctx context.Context, stored []float32, img *image.RGBA, threshold float64) (*Verification, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("stored embedding: %w", embedding.ErrEmpty)
	}
	if threshold <= 0 {
		threshold = constants.DefaultVerifyThreshold
	}

	dets, err := o.detectFaces(ctx, img)
	if err != nil {
		return nil, err
	}
	v, err := o.embedOne(ctx, img, dets[0].Landmarks)
	if err != nil {
		return nil, err
	}
	if len(v) != len(stored) {
		return nil, fmt.Errorf("%w: stored %d, computed %d", embedding.ErrDimensionMismatch, len(stored), len(v))
	}

	sim := embedding.Cosine(embedding.Normalize(stored), v)
	res := &Verification{
		Similarity: round(sim, 3),
		IsMatch:    sim >= threshold,
		Threshold:  threshold,
		Status:     StatusNotVerified,
	}
	if res.IsMatch {
		res.Status = StatusVerified
	}
	return res, nil
}

func (o *Orchestrator) embedOne(ctx context.Context, img *image.RGBA, lm landmark.Set) (embedding.Vector, error) {
	face, err := o.aligner.Align(img, lm)
	if err != nil {
		return nil, fmt.Errorf("aligning face: %w", err)
	}
	vecs, err := o.embedder.Embed(ctx, []align.Face{face})
	if err != nil {
		return nil, fmt.Errorf("embedding face: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 face", len(vecs))
	}
	return embedding.Normalize(vecs[0]), nil
}
