package database

import (
	"context"

	"github.com/google/uuid"
)

// SessionReader provides read-only access to attendance history
type SessionReader interface {
	// GetSession retrieves a session by ID, returns nil if not found
	GetSession(ctx context.Context, id uuid.UUID) (*StoredSession, error)
	// ListSessions returns the most recent sessions, newest first
	ListSessions(ctx context.Context, limit int) ([]StoredSession, error)
	// CountSessions returns the total number of sessions stored
	CountSessions(ctx context.Context) (int, error)
}

// SessionWriter provides write access to attendance history
type SessionWriter interface {
	SessionReader

	// SaveSession stores a session together with its pooled faces.
	// Saving an existing session ID replaces it.
	SaveSession(ctx context.Context, s *StoredSession, faces []StoredFace) error
	// DeleteSession removes a session and its faces
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// FaceReader provides read-only access to stored session faces
type FaceReader interface {
	// GetSessionFaces retrieves all pooled faces of a session in pool order
	GetSessionFaces(ctx context.Context, sessionID uuid.UUID) ([]StoredFace, error)
	// Count returns the total number of faces stored
	Count(ctx context.Context) (int, error)
	// FindSimilarUnidentified finds unassigned faces from past sessions whose
	// cosine distance to embedding is below maxDistance, closest first
	FindSimilarUnidentified(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]StoredFace, []float64, error)
}
