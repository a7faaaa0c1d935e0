package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/sirupsen/logrus"
)

const errHistoryDisabled = "session history is not configured"

// HistoryHandler serves stored attendance sessions.
type HistoryHandler struct {
	sessions database.SessionWriter // nil when history is disabled
	faces    database.FaceReader
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewHistoryHandler creates a history handler. Nil repositories disable
// every endpoint with 503.
func NewHistoryHandler(sessions database.SessionWriter, faces database.FaceReader, v *validator.Validate, l logrus.FieldLogger) *HistoryHandler {
	return &HistoryHandler{sessions: sessions, faces: faces, validate: v, log: l}
}

// SessionSummary is a stored session without its report.
type SessionSummary struct {
	ID                 uuid.UUID `json:"session_id"`
	CreatedAt          time.Time `json:"created_at"`
	Strategy           string    `json:"strategy"`
	ImagesProcessed    int       `json:"total_images_processed"`
	FacesAccepted      int       `json:"total_faces_accepted"`
	StudentsIdentified int       `json:"total_students_identified"`
	StudentsExpected   int       `json:"total_students_expected"`
	AttendanceRate     float64   `json:"attendance_rate"`
}

// SessionListResponse is the response of the session listing.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
}

// SimilarFacesRequest is the body of a stored face search.
type SimilarFacesRequest struct {
	Embedding   []float32 `json:"embedding" validate:"required,min=1"`
	Limit       int       `json:"limit" validate:"omitempty,min=1,max=100"`
	MaxDistance *float64  `json:"max_distance" validate:"omitempty,gt=0,lte=2"`
}

// SimilarFace is one stored unidentified face near the query.
type SimilarFace struct {
	SessionID  uuid.UUID `json:"session_id"`
	FaceID     string    `json:"face_identifier"`
	ImageIndex int       `json:"image_index"`
	FaceIndex  int       `json:"face_index"`
	Distance   float64   `json:"distance"`
	Similarity float64   `json:"similarity"`
}

// SimilarFacesResponse is the response of a stored face search.
type SimilarFacesResponse struct {
	Faces []SimilarFace `json:"faces"`
}

func summarize(s *database.StoredSession) SessionSummary {
	return SessionSummary{
		ID:                 s.ID,
		CreatedAt:          s.CreatedAt,
		Strategy:           s.Strategy,
		ImagesProcessed:    s.ImagesProcessed,
		FacesAccepted:      s.FacesAccepted,
		StudentsIdentified: s.StudentsIdentified,
		StudentsExpected:   s.StudentsExpected,
		AttendanceRate:     s.AttendanceRate,
	}
}

// List handles GET /api/v1/sessions.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, errHistoryDisabled)
		return
	}

	limit := constants.DefaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("failed to list sessions")
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	total, err := h.sessions.CountSessions(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to count sessions")
		respondError(w, http.StatusInternalServerError, "failed to count sessions")
		return
	}

	resp := SessionListResponse{Sessions: make([]SessionSummary, 0, len(sessions)), Total: total}
	for i := range sessions {
		resp.Sessions = append(resp.Sessions, summarize(&sessions[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/sessions/{id} and returns the stored report.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, errHistoryDisabled)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	s, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		h.log.WithError(err).WithField("session", id).Error("failed to get session")
		respondError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if s == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	report, err := s.DecodeReport()
	if err != nil {
		h.log.WithError(err).WithField("session", id).Error("stored report is corrupt")
		respondError(w, http.StatusInternalServerError, "failed to decode session report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Delete handles DELETE /api/v1/sessions/{id}.
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, errHistoryDisabled)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := h.sessions.DeleteSession(r.Context(), id); err != nil {
		h.log.WithError(err).WithField("session", id).Error("failed to delete session")
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Similar handles POST /api/v1/faces/similar.
func (h *HistoryHandler) Similar(w http.ResponseWriter, r *http.Request) {
	if h.faces == nil {
		respondError(w, http.StatusServiceUnavailable, errHistoryDisabled)
		return
	}
	var req SimilarFacesRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = constants.DefaultSimilarLimit
	}
	maxDistance := database.DefaultSimilarDistance
	if req.MaxDistance != nil {
		maxDistance = *req.MaxDistance
	}

	faces, distances, err := h.faces.FindSimilarUnidentified(r.Context(), req.Embedding, limit, maxDistance)
	if err != nil {
		h.log.WithError(err).Error("similar face search failed")
		respondError(w, errorStatus(err), err.Error())
		return
	}

	resp := SimilarFacesResponse{Faces: make([]SimilarFace, 0, len(faces))}
	for i, f := range faces {
		resp.Faces = append(resp.Faces, SimilarFace{
			SessionID:  f.SessionID,
			FaceID:     f.FaceID,
			ImageIndex: f.ImageIndex,
			FaceIndex:  f.FaceIndex,
			Distance:   distances[i],
			Similarity: 1 - distances[i],
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
