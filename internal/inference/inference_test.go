package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/align"
	"github.com/kozaktomas/rollcall/internal/detect"
)

func TestDetector_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		if len(req.Input.Shape) != 4 || req.Input.Shape[1] != 3 {
			t.Errorf("input shape = %v, want NCHW", req.Input.Shape)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"outputs": [{"shape": [1, 2, 1], "data": [0.1, 0.9]}]}`))
	}))
	defer server.Close()

	d := NewDetector(server.URL+"/", time.Second)
	outputs, err := d.Detect(context.Background(), detect.Tensor{Shape: []int{1, 3, 2, 2}, Data: make([]float32, 12)})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(outputs) != 1 || outputs[0].Data[1] != 0.9 {
		t.Errorf("Detect() = %+v", outputs)
	}
}

func TestDetector_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errText string
	}{
		{"server error", http.StatusInternalServerError, "model crashed", "API error (status 500): model crashed"},
		{"no outputs", http.StatusOK, `{"outputs": []}`, ErrEmptyResponse.Error()},
		{"bad json", http.StatusOK, `{"outputs": [`, "failed to parse response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewDetector(server.URL, time.Second).Detect(context.Background(), detect.Tensor{})
			if err == nil || !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("Detect() error = %v, want containing %q", err, tt.errText)
			}
		})
	}
}

func testFaces(n int) []align.Face {
	faces := make([]align.Face, n)
	for i := range faces {
		faces[i] = align.Face{Size: 2, Pix: make([]float32, 12)}
		faces[i].Pix[0] = float32(i)
	}
	return faces
}

func TestEmbedder_Batches(t *testing.T) {
	var batches []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		n := req.Shape[0]
		batches = append(batches, n)
		if len(req.Data) != n*2*2*3 {
			t.Errorf("len(Data) = %d, want %d", len(req.Data), n*12)
		}

		resp := embedResponse{Dim: 1}
		for i := range n {
			// Echo the face marker so ordering can be checked.
			resp.Embeddings = append(resp.Embeddings, []float32{req.Data[i*12]})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, time.Second, 2)
	vecs, err := e.Embed(context.Background(), testFaces(5))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(batches) != 3 || batches[0] != 2 || batches[2] != 1 {
		t.Errorf("batches = %v, want [2 2 1]", batches)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("embedding %d = %v, want marker %d", i, v, i)
		}
	}
}

func TestEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"dim": 1, "embeddings": [[1]]}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(server.URL, time.Second, 8).Embed(context.Background(), testFaces(2))
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Embed() error = %v, want %v", err, ErrEmptyResponse)
	}
}

func TestEmbedder_NoFaces(t *testing.T) {
	e := NewEmbedder("http://127.0.0.1:1", time.Second, 0)
	vecs, err := e.Embed(context.Background(), nil)
	if err != nil || len(vecs) != 0 {
		t.Errorf("Embed(nil) = %v, %v, want empty", vecs, err)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	if err := NewDetector(server.URL, time.Second).Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}
