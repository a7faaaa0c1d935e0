package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/sirupsen/logrus"
)

// Session is the input of one attendance run.
type Session struct {
	Images     []*image.RGBA
	Students   []match.Student
	Thresholds match.Thresholds
	// Strategy overrides the orchestrator default when set.
	Strategy string
	Progress Progress
}

// PresentStudent is a student matched to a face.
type PresentStudent struct {
	StudentID        string  `json:"student_id"`
	Name             string  `json:"name,omitempty"`
	RollNumber       string  `json:"roll_number,omitempty"`
	Confidence       float64 `json:"confidence"`
	Margin           float64 `json:"margin"`
	SecondConfidence float64 `json:"second_best_confidence,omitempty"`
	FaceID           string  `json:"face_identifier"`
	ImageIndex       int     `json:"image_index"`
	FaceIndex        int     `json:"face_index"`
	CrossValidated   bool    `json:"cross_validated"`
}

// AbsentStudent is an enrolled student without a match.
type AbsentStudent struct {
	StudentID  string `json:"student_id"`
	Name       string `json:"name,omitempty"`
	RollNumber string `json:"roll_number,omitempty"`
}

// QualityRejection records a face dropped by the quality gate.
type QualityRejection struct {
	FaceID     string             `json:"face_identifier"`
	ImageIndex int                `json:"image_index"`
	FaceIndex  int                `json:"face_index"`
	Reasons    []string           `json:"reasons"`
	Metrics    map[string]float64 `json:"metrics"`
}

// ImageError records an image that could not be processed.
type ImageError struct {
	ImageIndex int    `json:"image_index"`
	Error      string `json:"error"`
}

// Report is the attendance outcome of a session.
type Report struct {
	SessionID          uuid.UUID          `json:"session_id"`
	CreatedAt          time.Time          `json:"created_at"`
	Strategy           string             `json:"strategy"`
	Thresholds         match.Thresholds   `json:"thresholds"`
	ImagesProcessed    int                `json:"total_images_processed"`
	FacesDetected      int                `json:"total_faces_detected"`
	FacesAccepted      int                `json:"total_faces_accepted"`
	StudentsIdentified int                `json:"total_students_identified"`
	StudentsExpected   int                `json:"total_students_expected"`
	AttendanceRate     float64            `json:"attendance_rate"`
	Present            []PresentStudent   `json:"present_students"`
	Absent             []AbsentStudent    `json:"absent_students"`
	Unidentified       int                `json:"unidentified_faces"`
	UnidentifiedFaces  []string           `json:"unidentified_face_ids"`
	Rejections         []match.Rejection  `json:"rejected_matches"`
	QualityRejections  []QualityRejection `json:"quality_rejections"`
	ImageErrors        []ImageError       `json:"image_errors,omitempty"`

	// Pool holds the matched face embeddings for persistence.
	Pool []match.Face `json:"-"`
	// Assignments maps pool face IDs to student IDs.
	Assignments map[string]string `json:"-"`
}

// Attendance processes the session photos concurrently, pools the usable
// faces in image order and resolves them to students. Precondition failures
// are returned before any image is processed; per-image failures are reported
// in the result.
func (o *Orchestrator) Attendance(ctx context.Context, s Session) (*Report, error) {
	if n := len(s.Images); n < constants.MinSessionImages || n > constants.MaxSessionImages {
		return nil, fmt.Errorf("%w: got %d, need %d-%d", ErrImageCount, n, constants.MinSessionImages, constants.MaxSessionImages)
	}
	if err := match.Validate(s.Students); err != nil {
		return nil, err
	}
	students := normalizeStudents(s.Students)

	strategy := o.strategy
	if s.Strategy != "" {
		var err error
		if strategy, err = match.Get(s.Strategy); err != nil {
			return nil, err
		}
	}

	sessionID := uuid.New()
	l := o.log.WithFields(logrus.Fields{"session": sessionID, "strategy": strategy.Name()})
	l.WithFields(logrus.Fields{"images": len(s.Images), "students": len(s.Students)}).Info("attendance session started")

	results := o.processImages(ctx, s.Images, s.Progress)

	var pool []match.Face
	for _, r := range results {
		for _, f := range r.Usable() {
			pool = append(pool, match.Face{
				ID:        f.ID,
				Image:     r.Index,
				Index:     f.Index,
				Embedding: f.Embedding,
			})
		}
	}

	outcome := strategy.Match(pool, students, s.Thresholds)
	for _, rej := range outcome.Rejections {
		l.WithFields(logrus.Fields{
			"student_id": rej.StudentID,
			"face":       rej.FaceID,
			"kind":       rej.Kind,
		}).Debug(rej.Reason)
	}

	report := o.buildReport(sessionID, strategy.Name(), s, results, pool, outcome)
	l.WithFields(logrus.Fields{
		"present": report.StudentsIdentified,
		"absent":  len(report.Absent),
		"rate":    report.AttendanceRate,
	}).Info("attendance session finished")
	return report, nil
}

// normalizeStudents returns a copy of students with unit-length embeddings.
// Request vectors are not trusted to be normalized.
func normalizeStudents(students []match.Student) []match.Student {
	out := make([]match.Student, len(students))
	for i, st := range students {
		st.Embedding = embedding.Normalize(st.Embedding)
		out[i] = st
	}
	return out
}

// processImages runs ProcessImage over every image with bounded concurrency.
// Results are indexed by image.
func (o *Orchestrator) processImages(ctx context.Context, imgs []*image.RGBA, progress Progress) []ImageResult {
	results := make([]ImageResult, len(imgs))
	var mu sync.Mutex
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for i := range imgs {
		wg.Add(1)
		go func(idx int, img *image.RGBA) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var res ImageResult
			if err := ctx.Err(); err != nil {
				res = ImageResult{Index: idx, Err: err}
			} else {
				res = o.ProcessImage(ctx, idx, img)
			}

			mu.Lock()
			results[idx] = res
			if progress != nil {
				_ = progress.Add(1)
			}
			mu.Unlock()
		}(i, imgs[i])
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) buildReport(id uuid.UUID, strategy string, s Session, results []ImageResult, pool []match.Face, outcome match.Outcome) *Report {
	byID := make(map[string]match.Student, len(s.Students))
	for _, st := range s.Students {
		byID[st.ID] = st
	}

	r := &Report{
		SessionID:         id,
		CreatedAt:         time.Now().UTC(),
		Strategy:          strategy,
		Thresholds:        s.Thresholds,
		FacesAccepted:     len(pool),
		StudentsExpected:  len(s.Students),
		Present:           []PresentStudent{},
		Absent:            []AbsentStudent{},
		UnidentifiedFaces: outcome.Unidentified,
		Rejections:        outcome.Rejections,
		QualityRejections: []QualityRejection{},
		Pool:              pool,
		Assignments:       make(map[string]string, len(outcome.Matches)),
	}

	for _, res := range results {
		if res.Err != nil {
			r.ImageErrors = append(r.ImageErrors, ImageError{ImageIndex: res.Index, Error: res.Err.Error()})
			continue
		}
		r.ImagesProcessed++
		r.FacesDetected += res.Detected()
		for _, f := range res.Faces {
			if !f.Quality.Accepted {
				r.QualityRejections = append(r.QualityRejections, QualityRejection{
					FaceID:     f.ID,
					ImageIndex: res.Index,
					FaceIndex:  f.Index,
					Reasons:    f.Quality.Reasons,
					Metrics:    f.Quality.Metrics,
				})
			}
		}
	}

	for _, m := range outcome.Matches {
		r.Present = append(r.Present, PresentStudent{
			StudentID:        m.StudentID,
			Name:             byID[m.StudentID].Name,
			RollNumber:       byID[m.StudentID].RollNumber,
			Confidence:       m.Confidence,
			Margin:           m.Margin,
			SecondConfidence: m.SecondConfidence,
			FaceID:           m.FaceID,
			ImageIndex:       m.Image,
			FaceIndex:        m.FaceIndex,
			CrossValidated:   m.CrossValidated,
		})
		r.Assignments[m.FaceID] = m.StudentID
	}
	sort.SliceStable(r.Present, func(i, j int) bool {
		return r.Present[i].Confidence > r.Present[j].Confidence
	})

	for _, sid := range outcome.Absent {
		st := byID[sid]
		r.Absent = append(r.Absent, AbsentStudent{StudentID: sid, Name: st.Name, RollNumber: st.RollNumber})
	}
	sort.SliceStable(r.Absent, func(i, j int) bool {
		return o.collator.Compare(displayName(r.Absent[i]), displayName(r.Absent[j])) < 0
	})

	r.StudentsIdentified = len(r.Present)
	r.AttendanceRate = round(float64(r.StudentsIdentified)/float64(r.StudentsExpected), constants.AttendanceRatePrecision)
	r.Unidentified = max(0, r.FacesAccepted-r.StudentsIdentified)
	return r
}

func displayName(a AbsentStudent) string {
	if a.Name != "" {
		return a.Name
	}
	return a.StudentID
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
