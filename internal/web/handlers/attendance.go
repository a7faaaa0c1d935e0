package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// AttendanceHandler runs attendance sessions.
type AttendanceHandler struct {
	pipeline   Pipeline
	fetcher    ImageFetcher
	validate   *validator.Validate
	thresholds match.Thresholds
	history    database.SessionWriter // nil when history is disabled
	log        logrus.FieldLogger
}

// NewAttendanceHandler creates an attendance handler. Request thresholds
// override the given defaults field by field.
func NewAttendanceHandler(
	p Pipeline, f ImageFetcher, v *validator.Validate, defaults match.Thresholds,
	history database.SessionWriter, l logrus.FieldLogger,
) *AttendanceHandler {
	return &AttendanceHandler{
		pipeline:   p,
		fetcher:    f,
		validate:   v,
		thresholds: defaults,
		history:    history,
		log:        l,
	}
}

// AttendanceRequest is the body of an attendance request.
type AttendanceRequest struct {
	ImageURLs                []string        `json:"image_urls" validate:"min=2,max=4,dive,required,url"`
	Students                 []match.Student `json:"students" validate:"min=1,dive"`
	SimilarityThreshold      *float64        `json:"similarity_threshold" validate:"omitempty,gte=-1,lte=1"`
	MarginThreshold          *float64        `json:"margin_threshold" validate:"omitempty,gte=0,lte=2"`
	MinAbsoluteSimilarity    *float64        `json:"min_absolute_similarity" validate:"omitempty,gte=-1,lte=1"`
	CrossValidationThreshold *float64        `json:"cross_validation_threshold" validate:"omitempty,gte=-1,lte=1"`
	Strategy                 string          `json:"strategy"`
	Save                     bool            `json:"save"`
}

// thresholdsFor overlays the request thresholds on the defaults.
func (h *AttendanceHandler) thresholdsFor(req *AttendanceRequest) match.Thresholds {
	th := h.thresholds
	if req.SimilarityThreshold != nil {
		th.Similarity = *req.SimilarityThreshold
	}
	if req.MarginThreshold != nil {
		th.Margin = *req.MarginThreshold
	}
	if req.MinAbsoluteSimilarity != nil {
		th.MinAbsolute = *req.MinAbsoluteSimilarity
	}
	if req.CrossValidationThreshold != nil {
		th.CrossValidation = *req.CrossValidationThreshold
	}
	return th
}

// Process handles POST /api/v1/attendance.
func (h *AttendanceHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if err := match.Validate(req.Students); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Strategy != "" {
		if _, err := match.Get(req.Strategy); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	imgs, err := fetchImages(r.Context(), h.fetcher, req.ImageURLs)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.pipeline.Attendance(r.Context(), pipeline.Session{
		Images:     imgs,
		Students:   req.Students,
		Thresholds: h.thresholdsFor(&req),
		Strategy:   req.Strategy,
	})
	if err != nil {
		h.log.WithError(err).Warn("attendance request failed")
		respondError(w, errorStatus(err), err.Error())
		return
	}

	if req.Save {
		if err := h.save(r, report); err != nil {
			h.log.WithError(err).WithField("session", report.SessionID).Error("failed to store attendance session")
			status := http.StatusInternalServerError
			if errors.Is(err, database.ErrNotInitialized) {
				status = http.StatusServiceUnavailable
			}
			respondError(w, status, err.Error())
			return
		}
	}

	respondJSON(w, http.StatusOK, report)
}

func (h *AttendanceHandler) save(r *http.Request, report *pipeline.Report) error {
	if h.history == nil {
		return database.ErrNotInitialized
	}
	s, faces, err := database.NewSession(report)
	if err != nil {
		return err
	}
	return h.history.SaveSession(r.Context(), s, faces)
}
