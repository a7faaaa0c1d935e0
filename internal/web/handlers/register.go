package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// RegisterHandler enrolls students and verifies faces against stored embeddings.
type RegisterHandler struct {
	pipeline Pipeline
	fetcher  ImageFetcher
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewRegisterHandler creates a registration handler.
func NewRegisterHandler(p Pipeline, f ImageFetcher, v *validator.Validate, l logrus.FieldLogger) *RegisterHandler {
	return &RegisterHandler{pipeline: p, fetcher: f, validate: v, log: l}
}

// RegisterRequest is the body of a registration request.
type RegisterRequest struct {
	StudentID string   `json:"student_id" validate:"required"`
	ImageURLs []string `json:"image_urls" validate:"min=2,max=4,dive,required,url"`
}

// BatchRegisterRequest is the body of a batch registration request.
type BatchRegisterRequest struct {
	Students []RegisterRequest `json:"students" validate:"min=1,max=50,dive"`
}

// BatchRegisterResult is the outcome for one student of a batch.
type BatchRegisterResult struct {
	StudentID  string                `json:"student_id"`
	Status     string                `json:"status"`
	Error      string                `json:"error,omitempty"`
	Enrollment *pipeline.Enrollment `json:"enrollment,omitempty"`
}

// BatchRegisterResponse is the response of a batch registration.
type BatchRegisterResponse struct {
	Results    []BatchRegisterResult `json:"results"`
	Registered int                   `json:"registered"`
	Failed     int                   `json:"failed"`
}

// statusFailed marks a student whose enrollment errored in a batch.
const statusFailed = "failed"

// VerifyRequest is the body of a verification request.
type VerifyRequest struct {
	Embedding []float32 `json:"embedding" validate:"required,min=1"`
	ImageURL  string    `json:"image_url" validate:"required,url"`
	Threshold *float64  `json:"threshold" validate:"omitempty,gt=0,lte=1"`
}

// Register handles POST /api/v1/register.
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	e, err := h.enroll(r, &req)
	if err != nil {
		h.log.WithError(err).WithField("student_id", sanitizeForLog(req.StudentID)).Warn("registration failed")
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// RegisterBatch handles POST /api/v1/register/batch. Students are enrolled
// independently; a failure is reported in that student's result.
func (h *RegisterHandler) RegisterBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRegisterRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if len(req.Students) > constants.MaxBatchRegistrations {
		respondError(w, http.StatusBadRequest, "too many students in batch")
		return
	}

	resp := BatchRegisterResponse{Results: make([]BatchRegisterResult, 0, len(req.Students))}
	for i := range req.Students {
		sr := &req.Students[i]
		e, err := h.enroll(r, sr)
		if err != nil {
			h.log.WithError(err).WithField("student_id", sanitizeForLog(sr.StudentID)).Warn("batch registration failed")
			resp.Results = append(resp.Results, BatchRegisterResult{
				StudentID: sr.StudentID,
				Status:    statusFailed,
				Error:     err.Error(),
			})
			resp.Failed++
			continue
		}
		resp.Results = append(resp.Results, BatchRegisterResult{
			StudentID:  sr.StudentID,
			Status:     e.Status,
			Enrollment: e,
		})
		resp.Registered++
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *RegisterHandler) enroll(r *http.Request, req *RegisterRequest) (*pipeline.Enrollment, error) {
	imgs, err := fetchImages(r.Context(), h.fetcher, req.ImageURLs)
	if err != nil {
		return nil, err
	}
	return h.pipeline.Register(r.Context(), req.StudentID, imgs)
}

// Verify handles POST /api/v1/verify.
func (h *RegisterHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	img, err := h.fetcher.Fetch(r.Context(), req.ImageURL)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to fetch image: "+err.Error())
		return
	}

	threshold := constants.DefaultVerifyThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	v, err := h.pipeline.Verify(r.Context(), req.Embedding, img, threshold)
	if err != nil {
		h.log.WithError(err).Warn("verification failed")
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, v)
}
