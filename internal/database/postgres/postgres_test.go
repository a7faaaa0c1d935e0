//go:build integration

package postgres

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

// unitVector returns a 512-dim vector with cos(angle) on axis 0 and sin(angle) on axis 1.
func unitVector(angle float64) []float32 {
	v := make([]float32, 512)
	v[0] = float32(math.Cos(angle))
	v[1] = float32(math.Sin(angle))
	return v
}

func testSession(id uuid.UUID, createdAt time.Time) (*database.StoredSession, []database.StoredFace) {
	s := &database.StoredSession{
		ID:                 id,
		CreatedAt:          createdAt,
		Strategy:           "student-centric",
		ImagesProcessed:    2,
		FacesDetected:      3,
		FacesAccepted:      3,
		StudentsIdentified: 1,
		StudentsExpected:   2,
		AttendanceRate:     0.5,
		Report:             []byte(`{"session_id":"` + id.String() + `","attendance_rate":0.5}`),
	}
	faces := []database.StoredFace{
		{FaceID: "img0_face0", ImageIndex: 0, FaceIndex: 0, Embedding: unitVector(0), StudentID: "s1", CreatedAt: createdAt},
		{FaceID: "img0_face1", ImageIndex: 0, FaceIndex: 1, Embedding: unitVector(0.3), CreatedAt: createdAt},
		{FaceID: "img1_face0", ImageIndex: 1, FaceIndex: 0, Embedding: unitVector(math.Pi / 2), CreatedAt: createdAt},
	}
	return s, faces
}

func TestSessionRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewSessionRepository(pool)

	first := uuid.New()
	second := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("SaveAndGet", func(t *testing.T) {
		s, faces := testSession(first, now.Add(-time.Hour))
		if err := repo.SaveSession(ctx, s, faces); err != nil {
			t.Fatalf("Failed to save session: %v", err)
		}

		got, err := repo.GetSession(ctx, first)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got == nil {
			t.Fatal("Expected session, got nil")
		}
		if got.Strategy != "student-centric" || got.AttendanceRate != 0.5 || got.StudentsExpected != 2 {
			t.Errorf("Unexpected session %+v", got)
		}
		if len(got.Report) == 0 {
			t.Error("Expected report JSON to be stored")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := repo.GetSession(ctx, uuid.New())
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got != nil {
			t.Errorf("Expected nil for unknown session, got %+v", got)
		}
	})

	t.Run("GetSessionFaces", func(t *testing.T) {
		faces, err := repo.GetSessionFaces(ctx, first)
		if err != nil {
			t.Fatalf("Failed to get faces: %v", err)
		}
		if len(faces) != 3 {
			t.Fatalf("Expected 3 faces, got %d", len(faces))
		}
		if faces[0].StudentID != "s1" || !faces[1].Unidentified() {
			t.Errorf("Unexpected assignments: %q, %q", faces[0].StudentID, faces[1].StudentID)
		}
		if len(faces[2].Embedding) != 512 {
			t.Errorf("Expected 512-dim embedding, got %d", len(faces[2].Embedding))
		}
	})

	t.Run("ResaveReplacesFaces", func(t *testing.T) {
		s, faces := testSession(first, now.Add(-time.Hour))
		if err := repo.SaveSession(ctx, s, faces[:2]); err != nil {
			t.Fatalf("Failed to save session: %v", err)
		}
		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count faces: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2 faces after re-save, got %d", count)
		}
	})

	t.Run("ListSessions", func(t *testing.T) {
		s, faces := testSession(second, now)
		if err := repo.SaveSession(ctx, s, faces); err != nil {
			t.Fatalf("Failed to save session: %v", err)
		}

		sessions, err := repo.ListSessions(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to list sessions: %v", err)
		}
		if len(sessions) != 2 || sessions[0].ID != second {
			t.Errorf("Expected newest session first, got %d sessions", len(sessions))
		}

		count, err := repo.CountSessions(ctx)
		if err != nil || count != 2 {
			t.Errorf("CountSessions() = %d, %v", count, err)
		}
	})

	t.Run("FindSimilarUnidentified", func(t *testing.T) {
		faces, distances, err := repo.FindSimilarUnidentified(ctx, unitVector(0), 10, database.DefaultSimilarDistance)
		if err != nil {
			t.Fatalf("Failed to find similar faces: %v", err)
		}
		// The assigned face at angle 0 is excluded; both sessions hold an unidentified face at 0.3 rad.
		if len(faces) != 2 {
			t.Fatalf("Expected 2 similar faces, got %d", len(faces))
		}
		for i, f := range faces {
			if !f.Unidentified() || f.FaceID != "img0_face1" {
				t.Errorf("Unexpected face %+v", f)
			}
			if math.Abs(distances[i]-(1-math.Cos(0.3))) > 0.001 {
				t.Errorf("Expected distance %.4f, got %.4f", 1-math.Cos(0.3), distances[i])
			}
		}
	})

	t.Run("HNSW", func(t *testing.T) {
		indexPath := filepath.Join(t.TempDir(), "faces.hnsw")
		if err := repo.EnableHNSW(ctx, indexPath); err != nil {
			t.Fatalf("Failed to enable HNSW: %v", err)
		}
		defer repo.DisableHNSW()

		if !repo.IsHNSWEnabled() {
			t.Fatal("Expected HNSW to be enabled")
		}
		// Unidentified faces only: one in the first session, two in the second.
		if repo.HNSWCount() != 3 {
			t.Errorf("Expected 3 indexed faces, got %d", repo.HNSWCount())
		}

		faces, _, err := repo.FindSimilarUnidentified(ctx, unitVector(0), 10, database.DefaultSimilarDistance)
		if err != nil {
			t.Fatalf("Failed HNSW search: %v", err)
		}
		if len(faces) != 2 {
			t.Errorf("Expected 2 similar faces from HNSW, got %d", len(faces))
		}

		if err := repo.DeleteSession(ctx, first); err != nil {
			t.Fatalf("Failed to delete session: %v", err)
		}
		if repo.HNSWCount() != 2 {
			t.Errorf("Expected 2 indexed faces after delete, got %d", repo.HNSWCount())
		}
		if err := repo.SaveHNSWIndex(); err != nil {
			t.Fatalf("Failed to save HNSW index: %v", err)
		}
		meta, err := database.LoadHNSWMetadata(indexPath)
		if err != nil || meta.FaceCount != 2 {
			t.Errorf("Unexpected metadata %+v, %v", meta, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteSession(ctx, second); err != nil {
			t.Fatalf("Failed to delete session: %v", err)
		}
		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count faces: %v", err)
		}
		if count != 0 {
			t.Errorf("Expected faces to cascade, got %d", count)
		}
	})
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001_init.sql" {
		t.Errorf("Expected [001_init.sql], got %v", applied)
	}

	// Re-running is a no-op.
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("Failed to re-run migrations: %v", err)
	}
}
