// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/database"
)

// MockStore is an in-memory implementation of database.SessionWriter and
// database.FaceReader. Unidentified faces are searched through a real HNSW index.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]database.StoredSession
	faces    map[uuid.UUID][]database.StoredFace
	index    *database.HNSWIndex
	nextID   int64

	// Track calls
	SaveSessionCalls   []SaveSessionCall
	DeleteSessionCalls []uuid.UUID

	// Error injection
	SaveSessionError   error
	GetSessionError    error
	ListSessionsError  error
	DeleteSessionError error
	FindSimilarError   error
}

// SaveSessionCall tracks a SaveSession call
type SaveSessionCall struct {
	SessionID uuid.UUID
	Faces     int
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[uuid.UUID]database.StoredSession),
		faces:    make(map[uuid.UUID][]database.StoredFace),
		index:    database.NewHNSWIndex(),
	}
}

// SaveSession stores a session and assigns IDs to its faces
func (m *MockStore) SaveSession(_ context.Context, s *database.StoredSession, faces []database.StoredFace) error {
	if m.SaveSessionError != nil {
		return m.SaveSessionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveSessionCalls = append(m.SaveSessionCalls, SaveSessionCall{SessionID: s.ID, Faces: len(faces)})
	m.deleteLocked(s.ID)

	stored := make([]database.StoredFace, len(faces))
	for i, f := range faces {
		m.nextID++
		f.ID = m.nextID
		f.SessionID = s.ID
		stored[i] = f
		if f.Unidentified() {
			m.index.Add(&stored[i])
		}
	}
	m.sessions[s.ID] = *s
	m.faces[s.ID] = stored
	return nil
}

// GetSession retrieves a session by ID, nil if not found
func (m *MockStore) GetSession(_ context.Context, id uuid.UUID) (*database.StoredSession, error) {
	if m.GetSessionError != nil {
		return nil, m.GetSessionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// ListSessions returns sessions newest first
func (m *MockStore) ListSessions(_ context.Context, limit int) ([]database.StoredSession, error) {
	if m.ListSessionsError != nil {
		return nil, m.ListSessionsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.StoredSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountSessions returns the number of stored sessions
func (m *MockStore) CountSessions(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// DeleteSession removes a session and its faces
func (m *MockStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	if m.DeleteSessionError != nil {
		return m.DeleteSessionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteSessionCalls = append(m.DeleteSessionCalls, id)
	m.deleteLocked(id)
	return nil
}

func (m *MockStore) deleteLocked(id uuid.UUID) {
	for _, f := range m.faces[id] {
		m.index.Delete(f.ID)
	}
	delete(m.faces, id)
	delete(m.sessions, id)
}

// GetSessionFaces retrieves the faces of a session
func (m *MockStore) GetSessionFaces(_ context.Context, sessionID uuid.UUID) ([]database.StoredFace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.StoredFace(nil), m.faces[sessionID]...), nil
}

// Count returns the total number of stored faces
func (m *MockStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int
	for _, faces := range m.faces {
		n += len(faces)
	}
	return n, nil
}

// FindSimilarUnidentified searches the unidentified faces
func (m *MockStore) FindSimilarUnidentified(_ context.Context, embedding []float32, limit int, maxDistance float64) ([]database.StoredFace, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	return m.index.SearchWithin(embedding, limit, maxDistance)
}

var (
	_ database.SessionWriter = (*MockStore)(nil)
	_ database.FaceReader    = (*MockStore)(nil)
)
