package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/kozaktomas/rollcall/internal/align"
	"github.com/kozaktomas/rollcall/internal/detect"
	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/imageio"
	"github.com/kozaktomas/rollcall/internal/landmark"
	"github.com/kozaktomas/rollcall/internal/quality"
	"github.com/sirupsen/logrus"
)

// FaceResult is the outcome for one detection. Index is the detection rank
// within the image, so IDs stay stable whether or not a face is filtered.
type FaceResult struct {
	ID        string           `json:"face_identifier"`
	Index     int              `json:"face_index"`
	Score     float32          `json:"det_score"`
	Landmarks landmark.Set     `json:"landmarks"`
	Quality   quality.Report   `json:"quality"`
	Embedding embedding.Vector `json:"-"`
	Err       error            `json:"-"`
}

// Usable reports whether the face passed every stage and carries an embedding.
func (f FaceResult) Usable() bool {
	return f.Err == nil && f.Embedding != nil
}

// ImageResult is the outcome for one photo.
type ImageResult struct {
	Index  int          `json:"image_index"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Faces  []FaceResult `json:"faces"`
	Err    error        `json:"-"`
}

// Detected returns the number of detections above the score threshold.
func (r ImageResult) Detected() int {
	return len(r.Faces)
}

// Usable returns the faces that made it into the pool.
func (r ImageResult) Usable() []FaceResult {
	var out []FaceResult
	for _, f := range r.Faces {
		if f.Usable() {
			out = append(out, f)
		}
	}
	return out
}

// FaceID formats the pool identifier of face j in image i.
func FaceID(image, face int) string {
	return fmt.Sprintf("img%d_face%d", image, face)
}

var (
	// errQualityRejected marks faces dropped by the quality gate.
	errQualityRejected = errors.New("rejected by quality gate")
	// errFaceLimit marks accepted faces beyond the per-image cap.
	errFaceLimit = errors.New("over the per-image face limit")
)

// ProcessImage detects, gates, aligns and embeds every face in img. Failures
// of individual faces are recorded on the face; failures of the whole image
// on the result. An image without detections yields no faces and no error.
func (o *Orchestrator) ProcessImage(ctx context.Context, idx int, img *image.RGBA) ImageResult {
	b := img.Bounds()
	res := ImageResult{Index: idx, Width: b.Dx(), Height: b.Dy()}
	l := o.log.WithField("image", idx)

	dets, err := o.detectFaces(ctx, img)
	if err != nil {
		if errors.Is(err, detect.ErrNoDetectionAboveThreshold) {
			l.Debug("no faces detected")
			return res
		}
		res.Err = err
		l.WithError(err).Warn("image processing failed")
		return res
	}

	var aligned []align.Face
	var alignedIdx []int
	res.Faces = make([]FaceResult, len(dets))
	for j, det := range dets {
		fr := FaceResult{
			ID:        FaceID(idx, j),
			Index:     j,
			Score:     det.Score,
			Landmarks: det.Landmarks,
			Quality:   o.gate.Check(img, det.Landmarks),
		}
		fl := l.WithFields(logrus.Fields{"face": j, "score": det.Score})

		if !fr.Quality.Accepted {
			fl.WithField("reasons", fr.Quality.Reasons).Debug("face failed quality gate")
			if o.qualityFilter {
				fr.Err = errQualityRejected
				res.Faces[j] = fr
				continue
			}
		}

		if o.maxFaces > 0 && len(aligned) >= o.maxFaces {
			fr.Err = errFaceLimit
			res.Faces[j] = fr
			continue
		}

		face, err := o.aligner.Align(img, det.Landmarks)
		if err != nil {
			fr.Err = fmt.Errorf("aligning face: %w", err)
			fl.WithError(err).Debug("face alignment failed")
			res.Faces[j] = fr
			continue
		}
		o.saveDebugFace(fl, fr.ID, face)

		aligned = append(aligned, face)
		alignedIdx = append(alignedIdx, j)
		res.Faces[j] = fr
	}

	if len(aligned) == 0 {
		return res
	}

	vecs, err := o.embedder.Embed(ctx, aligned)
	if err == nil && len(vecs) != len(aligned) {
		err = fmt.Errorf("embedder returned %d vectors for %d faces", len(vecs), len(aligned))
	}
	if err != nil {
		res.Err = fmt.Errorf("embedding faces: %w", err)
		l.WithError(err).Warn("image processing failed")
		return res
	}

	for k, j := range alignedIdx {
		v := embedding.Normalize(vecs[k])
		if embedding.Norm(v) == 0 {
			res.Faces[j].Err = errors.New("embedder returned a zero vector")
			continue
		}
		res.Faces[j].Embedding = v
	}

	l.WithFields(logrus.Fields{
		"detected": len(dets),
		"usable":   len(res.Usable()),
	}).Debug("image processed")
	return res
}

// detectFaces runs the detector, downscaling its input when maxSide is set,
// and returns detections in original image coordinates.
func (o *Orchestrator) detectFaces(ctx context.Context, img *image.RGBA) ([]detect.Detection, error) {
	input, scale := imageio.Resize(img, o.maxSide)
	b := input.Bounds()

	outputs, err := o.detector.Detect(ctx, detect.Preprocess(input))
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	dets, err := o.decoder.Decode(outputs, b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("decoding detections: %w", err)
	}

	if scale != 1 {
		for i := range dets {
			dets[i].Landmarks = dets[i].Landmarks.Scale(1 / scale)
		}
	}
	return dets, nil
}

func (o *Orchestrator) saveDebugFace(l logrus.FieldLogger, id string, face align.Face) {
	if o.debugDir == "" {
		return
	}
	path := filepath.Join(o.debugDir, "aligned_"+id+".png")
	if err := imageio.SavePNG(path, face.Image()); err != nil {
		l.WithError(err).Warn("failed to save aligned face")
	}
}
