package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/kozaktomas/rollcall/internal/log"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// fakePipeline records calls and returns canned results
type fakePipeline struct {
	mu sync.Mutex

	report      *pipeline.Report
	enrollments map[string]*pipeline.Enrollment
	errs        map[string]error // keyed by student ID for Register
	verify      *pipeline.Verification
	err         error

	sessions   []pipeline.Session
	registered []string
	thresholds []float64
}

func (p *fakePipeline) Attendance(_ context.Context, s pipeline.Session) (*pipeline.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, s)
	if p.err != nil {
		return nil, p.err
	}
	return p.report, nil
}

func (p *fakePipeline) Register(_ context.Context, studentID string, imgs []*image.RGBA) (*pipeline.Enrollment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, studentID)
	if err := p.errs[studentID]; err != nil {
		return nil, err
	}
	if e, ok := p.enrollments[studentID]; ok {
		e.ImagesProcessed = len(imgs)
		return e, nil
	}
	return &pipeline.Enrollment{StudentID: studentID, ImagesProcessed: len(imgs), Status: pipeline.StatusSuccess}, nil
}

func (p *fakePipeline) Verify(_ context.Context, _ []float32, _ *image.RGBA, threshold float64) (*pipeline.Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.thresholds = append(p.thresholds, threshold)
	if p.err != nil {
		return nil, p.err
	}
	v := *p.verify
	v.Threshold = threshold
	v.IsMatch = v.Similarity >= threshold
	return &v, nil
}

// fakeFetcher serves a blank image for every URL except the failing ones
type fakeFetcher struct {
	fail map[string]bool
}

func (f fakeFetcher) Fetch(_ context.Context, url string) (*image.RGBA, error) {
	if f.fail[url] {
		return nil, errors.New("status 404")
	}
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONErrorContains checks if the response is a JSON error containing the expected text
func assertJSONErrorContains(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if !strings.Contains(result["error"], expected) {
		t.Errorf("expected error containing '%s', got '%s'", expected, result["error"])
	}
}

var discard = log.Discard()
