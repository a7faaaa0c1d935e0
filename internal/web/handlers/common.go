package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/detect"
	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Pipeline is the recognition pipeline behind the API.
type Pipeline interface {
	Attendance(ctx context.Context, s pipeline.Session) (*pipeline.Report, error)
	Register(ctx context.Context, studentID string, imgs []*image.RGBA) (*pipeline.Enrollment, error)
	Verify(ctx context.Context, stored []float32, img *image.RGBA, threshold float64) (*pipeline.Verification, error)
}

// ImageFetcher downloads request images.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*image.RGBA, error)
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeAndValidate reads a size-limited JSON body into dst and validates it.
// On failure the error response has already been written.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	if err := v.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// errorStatus maps pipeline errors to HTTP status codes. Input problems are
// client errors; everything else is a server error.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrImageCount),
		errors.Is(err, pipeline.ErrNotEnoughFaces),
		errors.Is(err, pipeline.ErrNotFrontal),
		errors.Is(err, match.ErrNoStudents),
		errors.Is(err, match.ErrDuplicateStudent),
		errors.Is(err, match.ErrEmbeddingDimension),
		errors.Is(err, match.ErrUnknownStrategy),
		errors.Is(err, embedding.ErrEmpty),
		errors.Is(err, embedding.ErrDimensionMismatch),
		errors.Is(err, detect.ErrNoDetectionAboveThreshold):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fetchImages downloads every URL in order.
func fetchImages(ctx context.Context, f ImageFetcher, urls []string) ([]*image.RGBA, error) {
	imgs := make([]*image.RGBA, len(urls))
	for i, u := range urls {
		img, err := f.Fetch(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch image %d: %w", i, err)
		}
		imgs[i] = img
	}
	return imgs, nil
}

// RootResponse describes the service.
type RootResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Root handles the service description endpoint.
func Root(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, RootResponse{
		Service: constants.ServiceName,
		Version: constants.APIVersion,
		Endpoints: map[string]string{
			"health":         "GET /health",
			"attendance":     "POST /api/v1/attendance",
			"register":       "POST /api/v1/register",
			"register_batch": "POST /api/v1/register/batch",
			"verify":         "POST /api/v1/verify",
			"strategies":     "GET /api/v1/strategies",
			"sessions":       "GET /api/v1/sessions",
			"similar_faces":  "POST /api/v1/faces/similar",
		},
	})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"models_loaded": true,
	})
}

// StrategiesResponse lists the available match strategies.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
	Default    string   `json:"default"`
}

// Strategies handles the strategy listing endpoint.
func Strategies(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, StrategiesResponse{
		Strategies: match.Names(),
		Default:    match.Default,
	})
}
