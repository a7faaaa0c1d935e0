package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StoredSession represents an attendance session stored in the database
type StoredSession struct {
	ID                 uuid.UUID
	CreatedAt          time.Time
	Strategy           string
	ImagesProcessed    int
	FacesDetected      int
	FacesAccepted      int
	StudentsIdentified int
	StudentsExpected   int
	AttendanceRate     float64
	Report             []byte // full report as JSON
}

// StoredFace represents a pooled face of a stored session
type StoredFace struct {
	ID         int64
	SessionID  uuid.UUID
	FaceID     string // pool identifier, e.g. img0_face1
	ImageIndex int
	FaceIndex  int
	Embedding  []float32
	StudentID  string // empty if the face was not assigned to anyone
	CreatedAt  time.Time
}

// Unidentified reports whether the face was left without a student.
func (f StoredFace) Unidentified() bool {
	return f.StudentID == ""
}

// NewSession converts an attendance report into a session record and its
// pooled faces.
func NewSession(r *pipeline.Report) (*StoredSession, []StoredFace, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	s := &StoredSession{
		ID:                 r.SessionID,
		CreatedAt:          r.CreatedAt,
		Strategy:           r.Strategy,
		ImagesProcessed:    r.ImagesProcessed,
		FacesDetected:      r.FacesDetected,
		FacesAccepted:      r.FacesAccepted,
		StudentsIdentified: r.StudentsIdentified,
		StudentsExpected:   r.StudentsExpected,
		AttendanceRate:     r.AttendanceRate,
		Report:             data,
	}

	faces := make([]StoredFace, 0, len(r.Pool))
	for _, f := range r.Pool {
		faces = append(faces, StoredFace{
			SessionID:  r.SessionID,
			FaceID:     f.ID,
			ImageIndex: f.Image,
			FaceIndex:  f.Index,
			Embedding:  f.Embedding,
			StudentID:  r.Assignments[f.ID],
			CreatedAt:  r.CreatedAt,
		})
	}
	return s, faces, nil
}

// DecodeReport unmarshals the stored report JSON.
func (s *StoredSession) DecodeReport() (*pipeline.Report, error) {
	var r pipeline.Report
	if err := json.Unmarshal(s.Report, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}
