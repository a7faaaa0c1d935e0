package config

import (
	_ "embed"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/kozaktomas/rollcall/internal/quality"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Detector DetectorConfig `yaml:"detector"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Match    MatchConfig    `yaml:"match"`
	Quality  QualityConfig  `yaml:"quality"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type DetectorConfig struct {
	URL            string  `yaml:"url"`
	Threshold      float64 `yaml:"threshold"`
	MaxFaces       int     `yaml:"max_faces"`     // 0 keeps every detection
	AnchorPolicy   string  `yaml:"anchor_policy"` // strict or reconcile
	MaxSide        int     `yaml:"max_side"`      // 0 disables input downscaling
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

type EmbedderConfig struct {
	URL            string `yaml:"url"`
	Dim            int    `yaml:"dim"`
	BatchSize      int    `yaml:"batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type MatchConfig struct {
	Strategy       string           `yaml:"strategy"`
	Thresholds     match.Thresholds `yaml:"thresholds"`
	ThresholdsFile string           `yaml:"-"` // optional YAML file overriding Thresholds
}

type QualityConfig struct {
	Enabled    bool               `yaml:"enabled"`
	Thresholds quality.Thresholds `yaml:"thresholds"`
}

type PipelineConfig struct {
	Workers             int    `yaml:"workers"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	DebugDir            string `yaml:"debug_dir"` // aligned faces are written here when set
}

type DatabaseConfig struct {
	URL           string `yaml:"url"` // PostgreSQL connection URL, history is disabled when empty
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	HNSWIndexPath string `yaml:"hnsw_index_path"` // optional, the index is rebuilt on startup when empty
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins besides localhost
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // optional rotating log file
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a finite, non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && !math.IsInf(f, 0) {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Defaults returns the embedded configuration without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the embedded defaults overridden by environment variables.
func Load() *Config {
	cfg := Defaults()

	cfg.Detector.URL = envString("DETECTOR_URL", envString("INFERENCE_URL", cfg.Detector.URL))
	cfg.Detector.Threshold = envFloat("DETECTOR_THRESHOLD", cfg.Detector.Threshold)
	cfg.Detector.MaxFaces = envInt("DETECTOR_MAX_FACES", cfg.Detector.MaxFaces)
	cfg.Detector.AnchorPolicy = envString("DETECTOR_ANCHOR_POLICY", cfg.Detector.AnchorPolicy)
	cfg.Detector.MaxSide = envInt("DETECTOR_MAX_SIDE", cfg.Detector.MaxSide)
	cfg.Detector.TimeoutSeconds = envInt("INFERENCE_TIMEOUT_SECONDS", cfg.Detector.TimeoutSeconds)

	cfg.Embedder.URL = envString("EMBEDDER_URL", envString("INFERENCE_URL", cfg.Embedder.URL))
	cfg.Embedder.Dim = envInt("EMBEDDING_DIM", cfg.Embedder.Dim)
	cfg.Embedder.BatchSize = envInt("EMBEDDER_BATCH_SIZE", cfg.Embedder.BatchSize)
	cfg.Embedder.TimeoutSeconds = envInt("INFERENCE_TIMEOUT_SECONDS", cfg.Embedder.TimeoutSeconds)

	th := &cfg.Match.Thresholds
	cfg.Match.Strategy = envString("MATCH_STRATEGY", cfg.Match.Strategy)
	th.Similarity = envFloat("SIMILARITY_THRESHOLD", th.Similarity)
	th.Margin = envFloat("MARGIN_THRESHOLD", th.Margin)
	th.MinAbsolute = envFloat("MIN_ABSOLUTE_SIMILARITY", th.MinAbsolute)
	th.CrossValidation = envFloat("CROSS_VALIDATION_THRESHOLD", th.CrossValidation)
	cfg.Match.ThresholdsFile = os.Getenv("ROLLCALL_THRESHOLDS_FILE")

	cfg.Quality.Enabled = envBool("QUALITY_FILTER", cfg.Quality.Enabled)

	cfg.Pipeline.Workers = envInt("WORKERS", cfg.Pipeline.Workers)
	cfg.Pipeline.FetchTimeoutSeconds = envInt("FETCH_TIMEOUT_SECONDS", cfg.Pipeline.FetchTimeoutSeconds)
	cfg.Pipeline.DebugDir = envString("DEBUG_DIR", cfg.Pipeline.DebugDir)

	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.HNSWIndexPath = envString("HNSW_INDEX_PATH", cfg.Database.HNSWIndexPath)

	cfg.Server.Host = envString("HOST", cfg.Server.Host)
	cfg.Server.Port = envInt("PORT", cfg.Server.Port)
	if s := os.Getenv("ALLOWED_ORIGINS"); s != "" {
		cfg.Server.AllowedOrigins = strings.Split(s, ",")
	}

	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envString("LOG_FILE", cfg.Log.File)

	return cfg
}

// LoadThresholds overlays the match thresholds with the values present in a
// YAML file. Keys missing from the file keep their current value.
func (c *Config) LoadThresholds(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}
	th := c.Match.Thresholds
	if err := yaml.Unmarshal(data, &th); err != nil {
		return fmt.Errorf("failed to parse thresholds file %s: %w", path, err)
	}
	for name, v := range map[string]float64{
		"similarity_threshold":       th.Similarity,
		"margin_threshold":           th.Margin,
		"min_absolute_similarity":    th.MinAbsolute,
		"cross_validation_threshold": th.CrossValidation,
	} {
		if v < -1 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("threshold %s out of range: %v", name, v)
		}
	}
	c.Match.Thresholds = th
	c.Match.ThresholdsFile = path
	return nil
}
