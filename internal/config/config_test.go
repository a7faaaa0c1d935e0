package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/kozaktomas/rollcall/internal/quality"
)

func TestDefaults_MatchPackageDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Match.Thresholds != match.DefaultThresholds() {
		t.Errorf("embedded match thresholds = %+v, want %+v", cfg.Match.Thresholds, match.DefaultThresholds())
	}
	if cfg.Quality.Thresholds != quality.DefaultThresholds() {
		t.Errorf("embedded quality thresholds = %+v, want %+v", cfg.Quality.Thresholds, quality.DefaultThresholds())
	}
	if cfg.Match.Strategy != match.Default {
		t.Errorf("expected default strategy %q, got %q", match.Default, cfg.Match.Strategy)
	}
	if !cfg.Quality.Enabled {
		t.Error("expected quality filter to be enabled by default")
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"DETECTOR_URL", "EMBEDDER_URL", "INFERENCE_URL", "EMBEDDING_DIM", "PORT", "DATABASE_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Detector.URL != "http://localhost:8000" || cfg.Embedder.URL != "http://localhost:8000" {
		t.Errorf("expected inference URLs to default to localhost:8000, got %q and %q", cfg.Detector.URL, cfg.Embedder.URL)
	}
	if cfg.Embedder.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Embedder.Dim)
	}
	if cfg.Detector.AnchorPolicy != "strict" {
		t.Errorf("expected strict anchor policy, got %q", cfg.Detector.AnchorPolicy)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("expected listen address 0.0.0.0:8080, got %q", cfg.Server.Addr())
	}
	if cfg.Database.URL != "" {
		t.Errorf("expected history to be disabled by default, got %q", cfg.Database.URL)
	}
}

func TestLoad_InferenceURLFallback(t *testing.T) {
	t.Setenv("INFERENCE_URL", "http://gpu:9000")
	t.Setenv("DETECTOR_URL", "")
	t.Setenv("EMBEDDER_URL", "http://embed:9001")

	cfg := Load()

	if cfg.Detector.URL != "http://gpu:9000" {
		t.Errorf("expected detector to use INFERENCE_URL, got %q", cfg.Detector.URL)
	}
	if cfg.Embedder.URL != "http://embed:9001" {
		t.Errorf("expected EMBEDDER_URL to win, got %q", cfg.Embedder.URL)
	}
}

func TestLoad_IntOverrides(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"custom", "128", 128},
		{"invalid", "invalid", 512},
		{"negative", "-100", 512},
		{"zero", "0", 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EMBEDDING_DIM", tt.value)

			cfg := Load()

			if cfg.Embedder.Dim != tt.want {
				t.Errorf("EMBEDDING_DIM=%q: got %d, want %d", tt.value, cfg.Embedder.Dim, tt.want)
			}
		})
	}
}

func TestLoad_FloatOverrides(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{"custom", "0.8", 0.8},
		{"invalid", "high", 0.70},
		{"negative", "-0.5", 0.70},
		{"infinite", "+Inf", 0.70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SIMILARITY_THRESHOLD", tt.value)

			cfg := Load()

			if cfg.Match.Thresholds.Similarity != tt.want {
				t.Errorf("SIMILARITY_THRESHOLD=%q: got %v, want %v", tt.value, cfg.Match.Thresholds.Similarity, tt.want)
			}
		})
	}
}

func TestLoad_BoolOverrides(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"false", false},
		{"0", false},
		{"true", true},
		{"maybe", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("QUALITY_FILTER", tt.value)

			cfg := Load()

			if cfg.Quality.Enabled != tt.want {
				t.Errorf("QUALITY_FILTER=%q: got %v, want %v", tt.value, cfg.Quality.Enabled, tt.want)
			}
		})
	}
}

func TestLoad_DatabaseAndLog(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://rollcall@localhost/rollcall")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "10")
	t.Setenv("HNSW_INDEX_PATH", "/var/lib/rollcall/faces.hnsw")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/var/log/rollcall.log")

	cfg := Load()

	if cfg.Database.URL != "postgres://rollcall@localhost/rollcall" {
		t.Errorf("unexpected database URL %q", cfg.Database.URL)
	}
	if cfg.Database.MaxOpenConns != 10 || cfg.Database.MaxIdleConns != 5 {
		t.Errorf("expected pool sizes 10/5, got %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Database.HNSWIndexPath != "/var/lib/rollcall/faces.hnsw" {
		t.Errorf("unexpected HNSW index path %q", cfg.Database.HNSWIndexPath)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/var/log/rollcall.log" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://school.example,https://admin.school.example")

	cfg := Load()

	want := []string{"https://school.example", "https://admin.school.example"}
	if strings.Join(cfg.Server.AllowedOrigins, ",") != strings.Join(want, ",") {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write thresholds file: %v", err)
	}
	return path
}

func TestLoadThresholds_PartialOverride(t *testing.T) {
	cfg := Defaults()
	path := writeFile(t, "similarity_threshold: 0.8\nmargin_threshold: 0.05\n")

	if err := cfg.LoadThresholds(path); err != nil {
		t.Fatalf("LoadThresholds() error = %v", err)
	}

	want := match.DefaultThresholds()
	want.Similarity = 0.8
	want.Margin = 0.05
	if cfg.Match.Thresholds != want {
		t.Errorf("got %+v, want %+v", cfg.Match.Thresholds, want)
	}
	if cfg.Match.ThresholdsFile != path {
		t.Errorf("expected ThresholdsFile %q, got %q", path, cfg.Match.ThresholdsFile)
	}
}

func TestLoadThresholds_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{"malformed", "similarity_threshold: [", "failed to parse"},
		{"out of range", "cross_validation_threshold: 1.5", "cross_validation_threshold out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			err := cfg.LoadThresholds(writeFile(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("LoadThresholds() error = %v, want containing %q", err, tt.errText)
			}
			if cfg.Match.Thresholds != match.DefaultThresholds() {
				t.Errorf("thresholds changed after a failed load: %+v", cfg.Match.Thresholds)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		err := Defaults().LoadThresholds(filepath.Join(t.TempDir(), "nope.yaml"))
		if err == nil || !strings.Contains(err.Error(), "failed to read thresholds file") {
			t.Errorf("LoadThresholds() error = %v", err)
		}
	})
}
