// Package match resolves pooled face embeddings to enrolled students.
package match

import (
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/embedding"
)

// Face is one accepted, embedded face from the session pool.
type Face struct {
	ID        string           `json:"id"`
	Image     int              `json:"image_index"`
	Index     int              `json:"face_index"`
	Embedding embedding.Vector `json:"-"`
}

// Student is an enrolled student with a unit-length reference embedding.
type Student struct {
	ID         string           `json:"student_id" validate:"required"`
	Name       string           `json:"name"`
	RollNumber string           `json:"roll_number,omitempty"`
	Embedding  embedding.Vector `json:"embedding" validate:"required,min=1"`
}

// Thresholds parameterizes a matching run.
type Thresholds struct {
	Similarity      float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	Margin          float64 `yaml:"margin_threshold" json:"margin_threshold"`
	MinAbsolute     float64 `yaml:"min_absolute_similarity" json:"min_absolute_similarity"`
	CrossValidation float64 `yaml:"cross_validation_threshold" json:"cross_validation_threshold"`
}

// DefaultThresholds returns the standard matching parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity:      constants.DefaultSimilarityThreshold,
		Margin:          constants.DefaultMarginThreshold,
		MinAbsolute:     constants.DefaultMinAbsoluteSimilarity,
		CrossValidation: constants.DefaultCrossValidationThreshold,
	}
}

// Match is an accepted student-to-face assignment.
type Match struct {
	StudentID        string  `json:"student_id"`
	FaceID           string  `json:"face_identifier"`
	Image            int     `json:"image_index"`
	FaceIndex        int     `json:"face_index"`
	Confidence       float64 `json:"confidence"`
	Margin           float64 `json:"margin"`
	SecondConfidence float64 `json:"second_best_confidence,omitempty"`
	CrossValidated   bool    `json:"cross_validated"`
	CrossSimilarity  float64 `json:"cross_similarity,omitempty"`
}

// RejectionKind classifies why a candidate match was not accepted.
type RejectionKind string

const (
	AmbiguousMatch      RejectionKind = "ambiguous_match"       // Margin too small and candidates are different people
	BelowThreshold      RejectionKind = "below_threshold"       // Best similarity under the similarity threshold
	BelowAbsolute       RejectionKind = "below_absolute"        // Best similarity under the absolute floor
	FaceAlreadyAssigned RejectionKind = "face_already_assigned" // Face claimed by another student
)

// Rejection is a diagnostic record for a candidate that was not accepted.
// Second* fields name the runner-up: a face for student-centric matching, a
// student for face-centric matching.
type Rejection struct {
	Kind             RejectionKind `json:"kind"`
	StudentID        string        `json:"student_id,omitempty"`
	FaceID           string        `json:"face_identifier,omitempty"`
	Image            int           `json:"image_index"`
	FaceIndex        int           `json:"face_index"`
	Confidence       float64       `json:"best_confidence"`
	SecondStudentID  string        `json:"second_best_student_id,omitempty"`
	SecondFaceID     string        `json:"second_best_face,omitempty"`
	SecondConfidence float64       `json:"second_best_confidence,omitempty"`
	Margin           float64       `json:"margin"`
	CrossSimilarity  float64       `json:"cross_similarity,omitempty"`
	Reason           string        `json:"rejection_reason"`
}

// Outcome is the result of one matching run. It is fully determined by its
// inputs.
type Outcome struct {
	Strategy     string      `json:"strategy"`
	Matches      []Match     `json:"matches"`
	Rejections   []Rejection `json:"rejections"`
	Present      []string    `json:"present"`
	Absent       []string    `json:"absent"`
	Unidentified []string    `json:"unidentified"`
}

// candidate is a scored pairing considered during matching.
type candidate struct {
	face    int
	student int
	sim     float64
}
