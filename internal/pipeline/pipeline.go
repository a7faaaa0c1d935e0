// Package pipeline runs classroom photos through detection, quality gating,
// alignment and embedding, then resolves the pooled faces to students.
package pipeline

import (
	"context"
	"errors"

	"github.com/kozaktomas/rollcall/internal/align"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/detect"
	"github.com/kozaktomas/rollcall/internal/log"
	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/kozaktomas/rollcall/internal/quality"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/sirupsen/logrus"
)

// ErrImageCount is returned when a session or enrollment has too few or too many images.
var ErrImageCount = errors.New("invalid number of images")

// Detector runs the face detection model on a preprocessed NCHW tensor and
// returns its raw output tensors.
type Detector interface {
	Detect(ctx context.Context, input detect.Tensor) ([]detect.Tensor, error)
}

// Embedder maps aligned faces to embeddings, one per face in input order.
type Embedder interface {
	Embed(ctx context.Context, faces []align.Face) ([][]float32, error)
}

// Progress receives one tick per processed image. *progressbar.ProgressBar
// satisfies it.
type Progress interface {
	Add(n int) error
}

// Orchestrator wires the core components to the model clients. It holds no
// per-session state and may be shared between concurrent sessions.
type Orchestrator struct {
	detector      Detector
	embedder      Embedder
	decoder       *detect.Decoder
	gate          *quality.Gate
	aligner       *align.Aligner
	strategy      match.Strategy
	collator      *roster.Collator
	concurrency   int
	qualityFilter bool
	maxSide       int
	maxFaces      int
	debugDir      string
	log           logrus.FieldLogger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDecoder replaces the default SCRFD decoder.
func WithDecoder(d *detect.Decoder) Option {
	return func(o *Orchestrator) { o.decoder = d }
}

// WithGate replaces the default quality gate.
func WithGate(g *quality.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithAligner replaces the default 112x112 aligner.
func WithAligner(a *align.Aligner) Option {
	return func(o *Orchestrator) { o.aligner = a }
}

// WithStrategy sets the default match strategy.
func WithStrategy(s match.Strategy) Option {
	return func(o *Orchestrator) { o.strategy = s }
}

// WithCollator sets the collator used to order absent students by name.
func WithCollator(c *roster.Collator) Option {
	return func(o *Orchestrator) { o.collator = c }
}

// WithConcurrency bounds the number of images processed in parallel.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithQualityFilter controls whether faces failing the quality gate are
// dropped. When disabled, reports are still computed and attached.
func WithQualityFilter(enabled bool) Option {
	return func(o *Orchestrator) { o.qualityFilter = enabled }
}

// WithMaxSide downsizes detector input so its longer side is at most n pixels.
// Landmarks are mapped back to the original image.
func WithMaxSide(n int) Option {
	return func(o *Orchestrator) { o.maxSide = n }
}

// WithMaxFaces caps the faces per image that go on to alignment and
// embedding. The cap counts faces that passed the quality gate, best
// detections first; 0 keeps every face.
func WithMaxFaces(n int) Option {
	return func(o *Orchestrator) { o.maxFaces = n }
}

// WithDebugDir writes every aligned face to dir as PNG.
func WithDebugDir(dir string) Option {
	return func(o *Orchestrator) { o.debugDir = dir }
}

// New creates an orchestrator around the given model clients.
func New(det Detector, emb Embedder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		detector:      det,
		embedder:      emb,
		decoder:       detect.NewDecoder(),
		gate:          quality.NewGate(quality.DefaultThresholds()),
		aligner:       align.NewAligner(constants.AlignedSize),
		strategy:      match.StudentCentric{},
		collator:      roster.NewCollator("und"),
		concurrency:   constants.WorkerPoolSize,
		qualityFilter: true,
		maxSide:       constants.MaxImageSize,
		log:           log.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.decoder.Log == nil {
		o.decoder.Log = o.log
	}
	return o
}

// Strategy returns the default match strategy.
func (o *Orchestrator) Strategy() match.Strategy {
	return o.strategy
}
