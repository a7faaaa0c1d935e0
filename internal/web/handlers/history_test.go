package handlers

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

func seededStore(t *testing.T) (*mock.MockStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	store := mock.NewMockStore()

	older := testReport()
	older.SessionID = uuid.New()
	older.CreatedAt = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	newer := testReport()
	newer.SessionID = uuid.New()
	newer.CreatedAt = time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC)
	newer.AttendanceRate = 1

	for _, r := range []*pipeline.Report{older, newer} {
		s, faces, err := database.NewSession(r)
		if err != nil {
			t.Fatalf("NewSession() error = %v", err)
		}
		if err := store.SaveSession(t.Context(), s, faces); err != nil {
			t.Fatalf("SaveSession() error = %v", err)
		}
	}
	return store, older.SessionID, newer.SessionID
}

func TestHistoryHandler_List(t *testing.T) {
	store, older, newer := seededStore(t)
	handler := NewHistoryHandler(store, store, testValidator(), discard)

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	assertStatusCode(t, recorder, http.StatusOK)

	var resp SessionListResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Total != 2 || len(resp.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %+v", resp)
	}
	if resp.Sessions[0].ID != newer || resp.Sessions[1].ID != older {
		t.Error("expected newest session first")
	}

	recorder = httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=1", nil))
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Sessions) != 1 || resp.Total != 2 {
		t.Errorf("limit=1: got %d sessions of %d", len(resp.Sessions), resp.Total)
	}

	recorder = httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=zero", nil))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestHistoryHandler_Get(t *testing.T) {
	store, older, _ := seededStore(t)
	handler := NewHistoryHandler(store, store, testValidator(), discard)

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"found", older.String(), http.StatusOK},
		{"unknown", uuid.NewString(), http.StatusNotFound},
		{"malformed", "session-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+tt.id, nil), map[string]string{"id": tt.id})
			recorder := httptest.NewRecorder()

			handler.Get(recorder, req)

			assertStatusCode(t, recorder, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			var report pipeline.Report
			parseJSONResponse(t, recorder, &report)
			if report.SessionID != older || len(report.Present) != 1 {
				t.Errorf("unexpected report %+v", report)
			}
		})
	}
}

func TestHistoryHandler_Delete(t *testing.T) {
	store, older, _ := seededStore(t)
	handler := NewHistoryHandler(store, store, testValidator(), discard)

	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+older.String(), nil), map[string]string{"id": older.String()})
	recorder := httptest.NewRecorder()
	handler.Delete(recorder, req)

	assertStatusCode(t, recorder, http.StatusNoContent)
	if n, _ := store.CountSessions(t.Context()); n != 1 {
		t.Errorf("expected 1 session left, got %d", n)
	}

	store.DeleteSessionError = errors.New("locked")
	recorder = httptest.NewRecorder()
	handler.Delete(recorder, req)
	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func TestHistoryHandler_Similar(t *testing.T) {
	store, _, _ := seededStore(t)
	handler := NewHistoryHandler(store, store, testValidator(), discard)

	recorder := httptest.NewRecorder()
	handler.Similar(recorder, jsonRequest(t, http.MethodPost, "/api/v1/faces/similar", map[string]any{
		"embedding": []float32{0, 1},
	}))

	assertStatusCode(t, recorder, http.StatusOK)

	var resp SimilarFacesResponse
	parseJSONResponse(t, recorder, &resp)
	// Each seeded session left img1_face0 unidentified; assigned faces are never returned.
	if len(resp.Faces) != 2 {
		t.Fatalf("expected 2 similar faces, got %+v", resp.Faces)
	}
	for _, f := range resp.Faces {
		if f.FaceID != "img1_face0" || math.Abs(f.Similarity-1) > 1e-4 {
			t.Errorf("unexpected face %+v", f)
		}
	}

	recorder = httptest.NewRecorder()
	handler.Similar(recorder, jsonRequest(t, http.MethodPost, "/api/v1/faces/similar", map[string]any{
		"embedding": []float32{0, 1},
		"limit":     1,
	}))
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Faces) != 1 {
		t.Errorf("limit=1: got %d faces", len(resp.Faces))
	}

	recorder = httptest.NewRecorder()
	handler.Similar(recorder, jsonRequest(t, http.MethodPost, "/api/v1/faces/similar", map[string]any{"limit": 5}))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestHistoryHandler_Disabled(t *testing.T) {
	handler := NewHistoryHandler(nil, nil, testValidator(), discard)

	tests := []struct {
		name string
		call func(http.ResponseWriter, *http.Request)
		req  *http.Request
	}{
		{"list", handler.List, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)},
		{"get", handler.Get, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/x", nil)},
		{"delete", handler.Delete, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/x", nil)},
		{"similar", handler.Similar, jsonRequest(t, http.MethodPost, "/api/v1/faces/similar", map[string]any{"embedding": []float32{1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			tt.call(recorder, tt.req)
			assertStatusCode(t, recorder, http.StatusServiceUnavailable)
			assertJSONErrorContains(t, recorder, errHistoryDisabled)
		})
	}
}
