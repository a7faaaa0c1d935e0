package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/inference"
	"github.com/kozaktomas/rollcall/internal/web"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the HTTP API for attendance, registration and verification.

Session history endpoints are enabled when DATABASE_URL points to a PostgreSQL
server with the pgvector extension. Without it the server runs stateless and
history endpoints answer 503.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default from config)")
	serveCmd.Flags().String("host", "", "Host to bind to (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}

	ctx := cmd.Context()

	if cfg.Database.URL != "" {
		l.Info("connecting to PostgreSQL")
		if _, _, err := openHistory(ctx, cfg); err != nil {
			return err
		}
		if rebuilder := database.GetFaceHNSWRebuilder(); rebuilder != nil {
			l.WithField("faces", rebuilder.HNSWCount()).Info("face HNSW index ready")
		}
	} else {
		l.Warn("DATABASE_URL not set, session history is disabled")
	}

	checkInference(ctx, cfg.Detector.URL, l)

	orch, err := newOrchestrator(cfg, l, "")
	if err != nil {
		return err
	}
	server := web.NewServer(cfg, orch, newFetcher(cfg), l)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		l.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			l.WithError(err).Error("error during shutdown")
		}
		closeHistory(l)
	}()

	fmt.Printf("Rollcall API listening on http://%s\n", cfg.Server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// checkInference logs whether the model service answers. The server starts
// either way; requests fail until the service is reachable.
func checkInference(ctx context.Context, url string, l logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := inference.NewDetector(url, 5*time.Second).Health(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			l.WithField("url", url).Warn("inference service did not answer in time")
			return
		}
		l.WithError(err).WithField("url", url).Warn("inference service is not healthy")
		return
	}
	l.WithField("url", url).Info("inference service is healthy")
}
