package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/detect"
	"github.com/kozaktomas/rollcall/internal/imageio"
	"github.com/kozaktomas/rollcall/internal/inference"
	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/kozaktomas/rollcall/internal/quality"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newOrchestrator wires the inference clients and the configured core
// components into a pipeline. lang selects the collation of absent lists.
func newOrchestrator(cfg *config.Config, l logrus.FieldLogger, lang string) (*pipeline.Orchestrator, error) {
	policy, err := detect.ParseAnchorPolicy(cfg.Detector.AnchorPolicy)
	if err != nil {
		return nil, err
	}
	strategy, err := match.Get(cfg.Match.Strategy)
	if err != nil {
		return nil, err
	}

	decoder := detect.NewDecoder()
	decoder.Threshold = float32(cfg.Detector.Threshold)
	decoder.Policy = policy
	decoder.Log = l

	if lang == "" {
		lang = "und"
	}

	det := inference.NewDetector(cfg.Detector.URL, time.Duration(cfg.Detector.TimeoutSeconds)*time.Second)
	emb := inference.NewEmbedder(cfg.Embedder.URL, time.Duration(cfg.Embedder.TimeoutSeconds)*time.Second, cfg.Embedder.BatchSize)

	return pipeline.New(det, emb,
		pipeline.WithDecoder(decoder),
		pipeline.WithGate(quality.NewGate(cfg.Quality.Thresholds)),
		pipeline.WithQualityFilter(cfg.Quality.Enabled),
		pipeline.WithStrategy(strategy),
		pipeline.WithCollator(roster.NewCollator(lang)),
		pipeline.WithConcurrency(cfg.Pipeline.Workers),
		pipeline.WithMaxSide(cfg.Detector.MaxSide),
		pipeline.WithMaxFaces(cfg.Detector.MaxFaces),
		pipeline.WithDebugDir(cfg.Pipeline.DebugDir),
		pipeline.WithLogger(l),
	), nil
}

func newFetcher(cfg *config.Config) *imageio.Fetcher {
	return imageio.NewFetcher(time.Duration(cfg.Pipeline.FetchTimeoutSeconds) * time.Second)
}

// loadImages opens every source, a local path or an http(s) URL, in order.
func loadImages(ctx context.Context, f *imageio.Fetcher, sources []string) ([]*image.RGBA, error) {
	imgs := make([]*image.RGBA, len(sources))
	for i, src := range sources {
		img, err := f.Open(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("image %d (%s): %w", i, src, err)
		}
		imgs[i] = img
	}
	return imgs, nil
}

// openHistory connects the session history backend.
func openHistory(ctx context.Context, cfg *config.Config) (database.SessionWriter, database.FaceReader, error) {
	if cfg.Database.URL == "" {
		return nil, nil, database.ErrNotInitialized
	}
	if err := postgres.Initialize(ctx, &cfg.Database); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	sessions, err := database.GetSessionWriter(ctx)
	if err != nil {
		return nil, nil, err
	}
	faces, err := database.GetFaceReader(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sessions, faces, nil
}

// closeHistory persists the face index and releases the pool.
func closeHistory(l logrus.FieldLogger) {
	if rebuilder := database.GetFaceHNSWRebuilder(); rebuilder != nil && rebuilder.IsHNSWEnabled() {
		if err := rebuilder.SaveHNSWIndex(); err != nil {
			l.WithError(err).Warn("failed to save face HNSW index")
		}
	}
	if pool := postgres.GetGlobalPool(); pool != nil {
		if err := pool.Close(); err != nil {
			l.WithError(err).Warn("failed to close database pool")
		}
	}
}

// newImageProgressBar creates a progress bar over n images, or nil for JSON output.
func newImageProgressBar(n int, description string, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// formatDuration formats a duration as a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
