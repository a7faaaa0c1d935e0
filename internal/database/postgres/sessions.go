package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/log"
	"github.com/pgvector/pgvector-go"
)

const faceColumns = `id, session_id, face_id, image_index, face_index, embedding, student_id, created_at`

// SessionRepository provides PostgreSQL-backed attendance history with an
// optional in-memory HNSW index over unidentified faces.
type SessionRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// SaveSession stores a session and its pooled faces, replacing any session
// with the same ID.
func (r *SessionRepository) SaveSession(ctx context.Context, s *database.StoredSession, faces []database.StoredFace) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	hnswEnabled := r.isHNSWEnabled()

	var oldFaceIDs []int64
	if hnswEnabled {
		oldFaceIDs, err = scanFaceIDs(ctx, tx, s.ID)
		if err != nil {
			return err
		}
	}

	// Cascades to session_faces.
	if _, err := tx.ExecContext(ctx, "DELETE FROM attendance_sessions WHERE id = $1", s.ID); err != nil {
		return fmt.Errorf("delete existing session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, created_at, strategy, images_processed, faces_detected,
		                                 faces_accepted, students_identified, students_expected,
		                                 attendance_rate, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		s.ID,
		s.CreatedAt,
		s.Strategy,
		s.ImagesProcessed,
		s.FacesDetected,
		s.FacesAccepted,
		s.StudentsIdentified,
		s.StudentsExpected,
		s.AttendanceRate,
		string(s.Report),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	inserted, err := insertFacesReturningIDs(ctx, tx, s.ID, faces)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.updateHNSWFaces(hnswEnabled, oldFaceIDs, inserted)
	return nil
}

// insertFacesReturningIDs inserts faces into the database and returns them with assigned IDs.
func insertFacesReturningIDs(
	ctx context.Context, tx *sql.Tx, sessionID uuid.UUID, faces []database.StoredFace,
) ([]database.StoredFace, error) {
	inserted := make([]database.StoredFace, 0, len(faces))

	for i := range faces {
		face := faces[i]
		var studentID sql.NullString
		if !face.Unidentified() {
			studentID = sql.NullString{String: face.StudentID, Valid: true}
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO session_faces (session_id, face_id, image_index, face_index, embedding, student_id, created_at)
			VALUES ($1, $2, $3, $4, $5::vector, $6, $7)
			RETURNING id
		`,
			sessionID,
			face.FaceID,
			face.ImageIndex,
			face.FaceIndex,
			pgvector.NewVector(face.Embedding),
			studentID,
			face.CreatedAt,
		).Scan(&face.ID)
		if err != nil {
			return nil, fmt.Errorf("insert face %s: %w", face.FaceID, err)
		}

		face.SessionID = sessionID
		inserted = append(inserted, face)
	}

	return inserted, nil
}

// GetSession retrieves a session by ID, returns nil if not found
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*database.StoredSession, error) {
	query := `
		SELECT id, created_at, strategy, images_processed, faces_detected, faces_accepted,
		       students_identified, students_expected, attendance_rate, report
		FROM attendance_sessions
		WHERE id = $1
	`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the most recent sessions, newest first
func (r *SessionRepository) ListSessions(ctx context.Context, limit int) ([]database.StoredSession, error) {
	query := `
		SELECT id, created_at, strategy, images_processed, faces_detected, faces_accepted,
		       students_identified, students_expected, attendance_rate, report
		FROM attendance_sessions
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.StoredSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(scanner interface{ Scan(...any) error }) (database.StoredSession, error) {
	var s database.StoredSession
	var report string
	err := scanner.Scan(
		&s.ID,
		&s.CreatedAt,
		&s.Strategy,
		&s.ImagesProcessed,
		&s.FacesDetected,
		&s.FacesAccepted,
		&s.StudentsIdentified,
		&s.StudentsExpected,
		&s.AttendanceRate,
		&report,
	)
	s.Report = []byte(report)
	return s, err
}

// CountSessions returns the total number of sessions stored
func (r *SessionRepository) CountSessions(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_sessions").Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// DeleteSession removes a session and its faces
func (r *SessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	hnswEnabled := r.isHNSWEnabled()

	var oldFaceIDs []int64
	if hnswEnabled {
		oldFaceIDs, err = scanFaceIDs(ctx, tx, id)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM attendance_sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.updateHNSWFaces(hnswEnabled, oldFaceIDs, nil)
	return nil
}

func scanFaceIDs(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM session_faces WHERE session_id = $1", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query face IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan face ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face IDs: %w", err)
	}
	return ids, nil
}

// GetSessionFaces retrieves all pooled faces of a session in pool order
func (r *SessionRepository) GetSessionFaces(ctx context.Context, sessionID uuid.UUID) ([]database.StoredFace, error) {
	query := `SELECT ` + faceColumns + `
		FROM session_faces
		WHERE session_id = $1
		ORDER BY image_index, face_index
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// Count returns the total number of faces stored.
func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM session_faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// FindSimilarUnidentified finds unassigned faces similar to embedding.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *SessionRepository) FindSimilarUnidentified(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredFace, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswEnabled && r.hnswIndex != nil {
		faces, distances, err := r.hnswIndex.SearchWithin(embedding, limit, maxDistance)
		if err != nil {
			return nil, nil, fmt.Errorf("HNSW search: %w", err)
		}
		return faces, distances, nil
	}

	return r.findSimilarPostgres(ctx, embedding, limit, maxDistance)
}

// findSimilarPostgres uses PostgreSQL for similarity search with ef_search optimization.
func (r *SessionRepository) findSimilarPostgres(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredFace, []float64, error) {
	// Use transaction to set ef_search for better recall (matching the in-memory HNSW config).
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := `SELECT ` + faceColumns + `, embedding <=> $1::vector AS distance
		FROM session_faces
		WHERE student_id IS NULL AND embedding <=> $1::vector < $2
		ORDER BY distance
		LIMIT $3
	`

	rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(embedding), maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	var faces []database.StoredFace
	var distances []float64
	for rows.Next() {
		var dist float64
		face, err := scanFaceRow(rows, &dist)
		if err != nil {
			return nil, nil, err
		}
		faces = append(faces, face)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, distances, nil
}

// scanFaceRow scans a single row into a StoredFace, with optional extra scan
// destinations appended after the face columns (e.g., a distance column).
func scanFaceRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredFace, error) {
	var face database.StoredFace
	var vec pgvector.Vector
	var studentID sql.NullString

	dest := make([]any, 0, 8+len(extraDest))
	dest = append(dest,
		&face.ID,
		&face.SessionID,
		&face.FaceID,
		&face.ImageIndex,
		&face.FaceIndex,
		&vec,
		&studentID,
		&face.CreatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return face, fmt.Errorf("scan face: %w", err)
	}

	face.Embedding = vec.Slice()
	if studentID.Valid {
		face.StudentID = studentID.String
	}
	return face, nil
}

func scanFaces(rows *sql.Rows) ([]database.StoredFace, error) {
	var faces []database.StoredFace
	for rows.Next() {
		face, err := scanFaceRow(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

// getUnidentifiedFaces retrieves every face without a student.
func (r *SessionRepository) getUnidentifiedFaces(ctx context.Context) ([]database.StoredFace, error) {
	query := `SELECT ` + faceColumns + `
		FROM session_faces
		WHERE student_id IS NULL
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query unidentified faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

func (r *SessionRepository) faceStats(ctx context.Context) (count, maxID int64, err error) {
	err = r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(MAX(id), 0) FROM session_faces WHERE student_id IS NULL",
	).Scan(&count, &maxID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get face stats: %w", err)
	}
	return count, maxID, nil
}

// isHNSWEnabled checks whether the HNSW index is active.
func (r *SessionRepository) isHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// updateHNSWFaces removes old face IDs and adds new unidentified faces to the HNSW index.
func (r *SessionRepository) updateHNSWFaces(hnswEnabled bool, oldIDs []int64, newFaces []database.StoredFace) {
	if !hnswEnabled {
		return
	}
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	for _, id := range oldIDs {
		r.hnswIndex.Delete(id)
	}
	for i := range newFaces {
		if newFaces[i].Unidentified() {
			r.hnswIndex.Add(&newFaces[i])
		}
	}
}

// tryLoadFaceIndex attempts to load the face HNSW index from disk.
// Returns true if the index was loaded and matches the database.
func (r *SessionRepository) tryLoadFaceIndex(indexPath string, dbFaceCount, dbMaxFaceID int64) bool {
	fields := log.Fields{"path": indexPath}

	metadata, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		log.Info(fields, "face index metadata unavailable, rebuilding")
		return false
	}
	if metadata.FaceCount != dbFaceCount || metadata.MaxFaceID != dbMaxFaceID {
		fields["db_count"], fields["db_max_id"] = dbFaceCount, dbMaxFaceID
		fields["cached_count"], fields["cached_max_id"] = metadata.FaceCount, metadata.MaxFaceID
		log.Info(fields, "face index is stale, rebuilding")
		return false
	}

	idx := database.NewHNSWIndex()
	if err := idx.LoadWithFaceMetadata(indexPath); err != nil {
		fields["error"] = err
		log.Warn(fields, "failed to load face index, rebuilding")
		return false
	}
	if idx.IsEmpty() {
		log.Info(fields, "loaded face index is empty, rebuilding")
		return false
	}

	r.hnswIndex = idx
	log.Info(fields, "face index loaded from disk")
	return true
}

// EnableHNSW loads or builds an in-memory HNSW index over unidentified faces.
// If indexPath is provided, it will try to load from disk first and save after building.
func (r *SessionRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	dbFaceCount, dbMaxFaceID, err := r.faceStats(ctx)
	if err != nil {
		return err
	}

	if indexPath != "" && r.tryLoadFaceIndex(indexPath, dbFaceCount, dbMaxFaceID) {
		r.hnswEnabled = true
		return nil
	}

	faces, err := r.getUnidentifiedFaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}

	r.hnswIndex = database.NewHNSWIndex()
	r.hnswIndex.BuildFromFaces(faces)

	if indexPath != "" && len(faces) > 0 {
		metadata := database.HNSWIndexMetadata{FaceCount: dbFaceCount, MaxFaceID: dbMaxFaceID}
		if err := r.hnswIndex.SaveWithFaceMetadata(indexPath, metadata); err != nil {
			log.Warn(log.Fields{"path": indexPath, "error": err}, "failed to save face index to disk")
		}
	}

	r.hnswEnabled = true
	return nil
}

// DisableHNSW disables the in-memory HNSW index, falling back to PostgreSQL queries.
func (r *SessionRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *SessionRepository) IsHNSWEnabled() bool {
	return r.isHNSWEnabled()
}

// HNSWCount returns the number of faces in the HNSW index.
func (r *SessionRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data.
func (r *SessionRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *SessionRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}

	faceCount, maxFaceID, err := r.faceStats(context.Background())
	if err != nil {
		return err
	}

	metadata := database.HNSWIndexMetadata{FaceCount: faceCount, MaxFaceID: maxFaceID}
	if err := r.hnswIndex.SaveWithFaceMetadata(r.hnswIndexPath, metadata); err != nil {
		return fmt.Errorf("saving HNSW face index: %w", err)
	}
	return nil
}

var (
	_ database.SessionWriter = (*SessionRepository)(nil)
	_ database.FaceReader    = (*SessionRepository)(nil)
	_ database.HNSWRebuilder = (*SessionRepository)(nil)
)
