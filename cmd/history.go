package cmd

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored attendance sessions",
	Long: `List attendance sessions stored with 'rollcall attend --save', newest first.
Requires DATABASE_URL.

Examples:
  rollcall history --limit 5
  rollcall history show 7d444840-9dc0-11d1-b245-5ffdce74fad2
  rollcall history similar stranger.jpg`,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a stored session report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session and its faces",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historySimilarCmd = &cobra.Command{
	Use:   "similar <photo>",
	Short: "Find unidentified faces from past sessions resembling the faces in a photo",
	Long: `Run the photo through detection and embedding, then search the faces that
past sessions could not assign to any student. Useful to tell whether an
unknown visitor has been seen before.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistorySimilar,
}

var historyReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild and save the face HNSW index",
	RunE:  runHistoryReindex,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd, historyDeleteCmd, historySimilarCmd, historyReindexCmd)

	historyCmd.Flags().Int("limit", constants.DefaultHistoryLimit, "Maximum number of sessions to list")
	historyCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	historySimilarCmd.Flags().Int("limit", constants.DefaultSimilarLimit, "Maximum matches per face")
	historySimilarCmd.Flags().Float64("max-distance", database.DefaultSimilarDistance, "Maximum cosine distance")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	sessions, _, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHistory(l)

	list, err := sessions.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	total, err := sessions.CountSessions(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		for i := range list {
			list[i].Report = nil // use 'history show' for the report
		}
		return outputJSON(map[string]any{"sessions": list, "total": total})
	}
	if len(list) == 0 {
		fmt.Println("No sessions stored.")
		return nil
	}
	fmt.Printf("%-36s  %-16s  %-19s  %s\n", "SESSION", "CREATED", "STRATEGY", "ATTENDANCE")
	for _, s := range list {
		fmt.Printf("%-36s  %-16s  %-19s  %d/%d (%.1f%%)\n",
			s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Strategy,
			s.StudentsIdentified, s.StudentsExpected, s.AttendanceRate*100)
	}
	if total > len(list) {
		fmt.Printf("\nShowing %d of %d sessions\n", len(list), total)
	}
	return nil
}

func parseSessionID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return id, nil
}

var errSessionNotFound = errors.New("session not found")

func runHistoryShow(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	sessions, _, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHistory(l)

	s, err := sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	report, err := s.DecodeReport()
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(report)
	}
	fmt.Printf("Recorded %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	printReport(report, 0)
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}

	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	sessions, _, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHistory(l)

	if err := sessions.DeleteSession(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", id)
	return nil
}

// SimilarFaceMatch is one stored face close to a face of the query photo.
type SimilarFaceMatch struct {
	QueryFace  string    `json:"query_face"`
	SessionID  uuid.UUID `json:"session_id"`
	FaceID     string    `json:"face_identifier"`
	Similarity float64   `json:"similarity"`
}

func runHistorySimilar(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	maxDistance := mustGetFloat64(cmd, "max-distance")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	_, faces, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHistory(l)

	orch, err := newOrchestrator(cfg, l, "")
	if err != nil {
		return err
	}
	img, err := newFetcher(cfg).Open(ctx, args[0])
	if err != nil {
		return err
	}

	res := orch.ProcessImage(ctx, 0, img)
	if res.Err != nil {
		return fmt.Errorf("processing %s: %w", args[0], res.Err)
	}
	usable := res.Usable()
	if len(usable) == 0 {
		return fmt.Errorf("no usable face in %s", args[0])
	}

	var matches []SimilarFaceMatch
	for _, f := range usable {
		stored, distances, err := faces.FindSimilarUnidentified(ctx, f.Embedding, limit, maxDistance)
		if err != nil {
			return fmt.Errorf("searching faces similar to %s: %w", f.ID, err)
		}
		for i, s := range stored {
			matches = append(matches, SimilarFaceMatch{
				QueryFace:  f.ID,
				SessionID:  s.SessionID,
				FaceID:     s.FaceID,
				Similarity: 1 - distances[i],
			})
		}
	}

	if jsonOutput {
		return outputJSON(matches)
	}
	printSimilar(usable, matches)
	return nil
}

func printSimilar(query []pipeline.FaceResult, matches []SimilarFaceMatch) {
	for _, f := range query {
		fmt.Printf("%s:\n", f.ID)
		found := false
		for _, m := range matches {
			if m.QueryFace != f.ID {
				continue
			}
			found = true
			fmt.Printf("  session %s  %-12s  similarity %.3f\n", m.SessionID, m.FaceID, m.Similarity)
		}
		if !found {
			fmt.Println("  no similar unidentified faces")
		}
	}
}

func runHistoryReindex(cmd *cobra.Command, args []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.HNSWIndexPath == "" {
		return errors.New("HNSW_INDEX_PATH is required to persist the face index")
	}
	ctx := cmd.Context()
	if _, _, err := openHistory(ctx, cfg); err != nil {
		return err
	}
	defer closeHistory(l)

	rebuilder := database.GetFaceHNSWRebuilder()
	if rebuilder == nil {
		return errors.New("face index is not enabled")
	}
	if err := rebuilder.RebuildHNSW(ctx); err != nil {
		return fmt.Errorf("rebuilding face index: %w", err)
	}
	fmt.Printf("Face index rebuilt with %d unidentified faces\n", rebuilder.HNSWCount())
	return nil
}
