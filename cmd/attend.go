package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/spf13/cobra"
)

var attendCmd = &cobra.Command{
	Use:   "attend <photo> <photo> [photo] [photo]",
	Short: "Take attendance from classroom photos",
	Long: `Detect and recognize faces in 2-4 classroom photos and match them against
the enrolled students of a roster. Photos may be local files or http(s) URLs.

Examples:
  # Take attendance with the default student-centric strategy
  rollcall attend --roster class.yaml front.jpg back.jpg

  # Try the face-centric strategy with a stricter similarity threshold
  rollcall attend --roster class.yaml --strategy face-centric --similarity 0.75 a.jpg b.jpg c.jpg

  # Store the session in the history database and print JSON
  rollcall attend --roster class.yaml --save --json a.jpg b.jpg`,
	Args: cobra.RangeArgs(constants.MinSessionImages, constants.MaxSessionImages),
	RunE: runAttend,
}

func init() {
	rootCmd.AddCommand(attendCmd)

	attendCmd.Flags().String("roster", "roster.yaml", "Roster file with enrolled students")
	attendCmd.Flags().String("strategy", "", "Match strategy (default from config)")
	attendCmd.Flags().Float64("similarity", 0, "Override the similarity threshold")
	attendCmd.Flags().Float64("margin", 0, "Override the margin threshold")
	attendCmd.Flags().Bool("save", false, "Store the session in the history database")
	attendCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAttend(cmd *cobra.Command, args []string) error {
	rosterPath := mustGetString(cmd, "roster")
	strategy := mustGetString(cmd, "strategy")
	save := mustGetBool(cmd, "save")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	thresholds := cfg.Match.Thresholds
	if cmd.Flags().Changed("similarity") {
		thresholds.Similarity = mustGetFloat64(cmd, "similarity")
	}
	if cmd.Flags().Changed("margin") {
		thresholds.Margin = mustGetFloat64(cmd, "margin")
	}

	r, err := roster.Load(rosterPath)
	if err != nil {
		return err
	}
	if len(r.Students) == 0 {
		return fmt.Errorf("roster %s has no enrolled students, run 'rollcall enroll' first", rosterPath)
	}

	ctx := cmd.Context()

	var history database.SessionWriter
	if save {
		history, _, err = openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeHistory(l)
	}

	orch, err := newOrchestrator(cfg, l, r.Language)
	if err != nil {
		return err
	}
	imgs, err := loadImages(ctx, newFetcher(cfg), args)
	if err != nil {
		return err
	}

	session := pipeline.Session{
		Images:     imgs,
		Students:   r.Students(),
		Thresholds: thresholds,
		Strategy:   strategy,
	}
	if bar := newImageProgressBar(len(imgs), "Processing photos", jsonOutput); bar != nil {
		session.Progress = bar
		defer bar.Close()
	}

	start := time.Now()
	report, err := orch.Attendance(ctx, session)
	if err != nil {
		return fmt.Errorf("attendance failed: %w", err)
	}

	if history != nil {
		s, faces, err := database.NewSession(report)
		if err != nil {
			return err
		}
		if err := history.SaveSession(ctx, s, faces); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
	}

	if jsonOutput {
		return outputJSON(report)
	}
	printReport(report, time.Since(start))
	if history != nil {
		fmt.Printf("\nSession saved as %s\n", report.SessionID)
	}
	return nil
}

func printReport(r *pipeline.Report, elapsed time.Duration) {
	fmt.Printf("\nSession %s (%s, %s)\n", r.SessionID, r.Strategy, formatDuration(elapsed))
	fmt.Printf("Photos: %d  Faces: %d detected, %d accepted\n", r.ImagesProcessed, r.FacesDetected, r.FacesAccepted)
	fmt.Printf("Attendance: %d/%d (%.1f%%)\n", r.StudentsIdentified, r.StudentsExpected, r.AttendanceRate*100)

	if len(r.Present) > 0 {
		fmt.Println("\nPresent:")
		for _, p := range r.Present {
			fmt.Printf("  %-24s %.3f  margin %.3f  %s\n", displayName(p.StudentID, p.Name), p.Confidence, p.Margin, p.FaceID)
		}
	}
	if len(r.Absent) > 0 {
		fmt.Println("\nAbsent:")
		for _, a := range r.Absent {
			fmt.Printf("  %s\n", displayName(a.StudentID, a.Name))
		}
	}
	if r.Unidentified > 0 {
		fmt.Printf("\nUnidentified faces: %d (%s)\n", r.Unidentified, strings.Join(r.UnidentifiedFaces, ", "))
	}
	if len(r.QualityRejections) > 0 {
		fmt.Printf("\nFaces rejected by quality gate: %d\n", len(r.QualityRejections))
		for _, q := range r.QualityRejections {
			fmt.Printf("  %s: %s\n", q.FaceID, strings.Join(q.Reasons, "; "))
		}
	}
	for _, e := range r.ImageErrors {
		fmt.Printf("\nImage %d failed: %s\n", e.ImageIndex, e.Error)
	}
}

func displayName(id, name string) string {
	if name == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", name, id)
}
