package cmd

import (
	"fmt"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <photo>",
	Short: "Check whether a photo shows an enrolled student",
	Long: `Compare the most confident face in a photo with a student's stored embedding.
The student is looked up by ID, or by name ignoring case and diacritics.

Examples:
  rollcall verify --roster class.yaml --student s17 door.jpg
  rollcall verify --roster class.yaml --student "jana novakova" --threshold 0.7 door.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("roster", "roster.yaml", "Roster file with enrolled students")
	verifyCmd.Flags().String("student", "", "Student ID or name (required)")
	verifyCmd.Flags().Float64("threshold", constants.DefaultVerifyThreshold, "Minimum similarity for a match")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
	_ = verifyCmd.MarkFlagRequired("student")
}

func runVerify(cmd *cobra.Command, args []string) error {
	rosterPath := mustGetString(cmd, "roster")
	query := mustGetString(cmd, "student")
	threshold := mustGetFloat64(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	r, err := roster.Load(rosterPath)
	if err != nil {
		return err
	}
	student, ok := r.Find(query)
	if !ok {
		return fmt.Errorf("student %q not found in %s", query, rosterPath)
	}

	orch, err := newOrchestrator(cfg, l, r.Language)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	img, err := newFetcher(cfg).Open(ctx, args[0])
	if err != nil {
		return err
	}

	v, err := orch.Verify(ctx, student.Embedding, img, threshold)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(v)
	}
	verdict := "no match"
	if v.IsMatch {
		verdict = "match"
	}
	fmt.Printf("%s: %s (similarity %.3f, threshold %.2f)\n", displayName(student.ID, student.Name), verdict, v.Similarity, v.Threshold)
	return nil
}
