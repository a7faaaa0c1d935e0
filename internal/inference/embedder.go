package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/align"
)

const defaultBatchSize = 16

// Embedder runs the ArcFace model remotely.
type Embedder struct {
	client
	batchSize int
}

// NewEmbedder creates an embedder client. Faces are sent in batches of at
// most batchSize.
func NewEmbedder(baseURL string, timeout time.Duration, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Embedder{client: newClient(baseURL, timeout), batchSize: batchSize}
}

// embedRequest carries an (N, size, size, 3) tensor in [-1, 1].
type embedRequest struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type embedResponse struct {
	Dim        int         `json:"dim"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one embedding per face, in input order.
func (e *Embedder) Embed(ctx context.Context, faces []align.Face) ([][]float32, error) {
	out := make([][]float32, 0, len(faces))
	for start := 0; start < len(faces); start += e.batchSize {
		batch := faces[start:min(start+e.batchSize, len(faces))]
		vecs, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, faces []align.Face) ([][]float32, error) {
	size := faces[0].Size
	req := embedRequest{
		Shape: []int{len(faces), size, size, 3},
		Data:  make([]float32, 0, len(faces)*size*size*3),
	}
	for i, f := range faces {
		if f.Size != size {
			return nil, fmt.Errorf("embedder: face %d is %dx%d, batch is %dx%d", i, f.Size, f.Size, size, size)
		}
		req.Data = append(req.Data, f.Pix...)
	}

	var resp embedResponse
	if err := e.postJSON(ctx, "/embed", req, &resp); err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if len(resp.Embeddings) != len(faces) {
		return nil, fmt.Errorf("embedder: %w: got %d embeddings for %d faces", ErrEmptyResponse, len(resp.Embeddings), len(faces))
	}
	return resp.Embeddings, nil
}
