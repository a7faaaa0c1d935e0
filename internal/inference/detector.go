package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/detect"
)

// Detector runs the SCRFD model remotely.
type Detector struct {
	client
}

// NewDetector creates a detector client for the model server at baseURL.
func NewDetector(baseURL string, timeout time.Duration) *Detector {
	return &Detector{client: newClient(baseURL, timeout)}
}

type detectRequest struct {
	Input detect.Tensor `json:"input"`
}

type detectResponse struct {
	Outputs []detect.Tensor `json:"outputs"`
}

// Detect sends a preprocessed NCHW tensor and returns the raw output tensors
// in model order.
func (d *Detector) Detect(ctx context.Context, input detect.Tensor) ([]detect.Tensor, error) {
	var resp detectResponse
	if err := d.postJSON(ctx, "/detect", detectRequest{Input: input}, &resp); err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	if len(resp.Outputs) == 0 {
		return nil, fmt.Errorf("detector: %w", ErrEmptyResponse)
	}
	return resp.Outputs, nil
}
