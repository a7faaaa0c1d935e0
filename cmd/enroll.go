package cmd

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <photo> <photo> [photo] [photo]",
	Short: "Enroll a student from 2-4 portrait photos",
	Long: `Compute a student's reference embedding from 2-4 photos showing the student
alone and facing the camera, and store it in the roster. Enrolling an existing
student ID replaces the stored embedding.

Examples:
  rollcall enroll --roster class.yaml --id s17 --name "Jana Novakova" jana1.jpg jana2.jpg jana3.jpg

  # Keep the roster unchanged when the photos are inconsistent
  rollcall enroll --roster class.yaml --id s17 --strict jana1.jpg jana2.jpg`,
	Args: cobra.RangeArgs(constants.MinRegistrationImages, constants.MaxRegistrationImages),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("roster", "roster.yaml", "Roster file to update")
	enrollCmd.Flags().String("id", "", "Student ID (required)")
	enrollCmd.Flags().String("name", "", "Student display name")
	enrollCmd.Flags().String("roll-number", "", "Class roll number")
	enrollCmd.Flags().Bool("strict", false, "Refuse to store an enrollment with inconsistent photos")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	_ = enrollCmd.MarkFlagRequired("id")
}

var errInconsistentEnrollment = errors.New("enrollment photos are inconsistent")

func runEnroll(cmd *cobra.Command, args []string) error {
	rosterPath := mustGetString(cmd, "roster")
	id := mustGetString(cmd, "id")
	name := mustGetString(cmd, "name")
	rollNumber := mustGetString(cmd, "roll-number")
	strict := mustGetBool(cmd, "strict")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	r, err := roster.Load(rosterPath)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, l, r.Language)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	imgs, err := loadImages(ctx, newFetcher(cfg), args)
	if err != nil {
		return err
	}

	e, err := orch.Register(ctx, id, imgs)
	if err != nil {
		if e != nil && !jsonOutput {
			printFailures(e)
		}
		return fmt.Errorf("enrollment failed: %w", err)
	}
	if strict && !e.Consistent {
		return fmt.Errorf("%w (quality %.3f)", errInconsistentEnrollment, e.Quality)
	}

	r.Upsert(roster.Entry{ID: id, Name: name, RollNumber: rollNumber, Embedding: e.Embedding})
	if err := r.Save(rosterPath); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(e)
	}
	fmt.Printf("Enrolled %s from %d of %d photos\n", displayName(id, name), e.FacesUsed, e.ImagesProcessed)
	fmt.Printf("  Status:  %s\n", e.Status)
	fmt.Printf("  Quality: %.3f\n", e.Quality)
	if e.Message != "" {
		fmt.Printf("  Note:    %s\n", e.Message)
	}
	printFailures(e)
	fmt.Printf("Roster %s now has %d students\n", rosterPath, len(r.Students))
	return nil
}

func printFailures(e *pipeline.Enrollment) {
	for _, f := range e.Failures {
		fmt.Printf("  Photo %d skipped: %s\n", f.ImageIndex, f.Error)
	}
}
