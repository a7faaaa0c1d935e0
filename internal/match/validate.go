package match

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStudents is returned when a session has no enrolled students.
	ErrNoStudents = errors.New("no students enrolled")
	// ErrDuplicateStudent is returned when two students share an ID.
	ErrDuplicateStudent = errors.New("duplicate student id")
	// ErrEmbeddingDimension is returned for empty or inconsistently sized student embeddings.
	ErrEmbeddingDimension = errors.New("invalid student embedding dimension")
)

// Validate checks the matching preconditions on the student set.
func Validate(students []Student) error {
	if len(students) == 0 {
		return ErrNoStudents
	}

	seen := make(map[string]struct{}, len(students))
	dim := len(students[0].Embedding)
	for _, s := range students {
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateStudent, s.ID)
		}
		seen[s.ID] = struct{}{}

		if len(s.Embedding) == 0 || len(s.Embedding) != dim {
			return fmt.Errorf("%w: student %q has %d values, want %d", ErrEmbeddingDimension, s.ID, len(s.Embedding), dim)
		}
	}
	return nil
}
