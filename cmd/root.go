package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	thresholdsFile string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Classroom attendance from group photos",
	Long: `Rollcall detects and recognizes faces in 2-4 classroom photos and
resolves them against an enrolled class roster to produce an attendance report.

Face detection (SCRFD) and embedding (ArcFace) run on an inference service
reachable at INFERENCE_URL. Everything else, from anchor decoding to matching,
runs locally.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&thresholdsFile, "thresholds", "", "YAML file overriding the match thresholds")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the configuration, applies the thresholds file and
// installs the package logger.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg := config.Load()

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	l := log.Init(log.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	path := thresholdsFile
	if path == "" {
		path = cfg.Match.ThresholdsFile
	}
	if path != "" {
		if err := cfg.LoadThresholds(path); err != nil {
			return nil, nil, err
		}
		l.WithField("file", path).Debug("loaded match thresholds")
	}
	return cfg, l, nil
}
