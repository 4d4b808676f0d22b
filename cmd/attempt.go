package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/memquiz/internal/store"
	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/spf13/cobra"
)

var attemptOpts types.Attempt

var attemptCmd = &cobra.Command{
	Use:         "attempt <question_id>",
	Short:       "Record a quiz attempt for a question",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		a := attemptOpts
		a.QuestionID = args[0]
		return runAttempt(cmd.Context(), a)
	},
}

func init() {
	attemptCmd.Flags().StringVar(&attemptOpts.Day, "day", "", "Day of the attempt, YYYY-MM-DD (default: today)")
	attemptCmd.Flags().IntVar(&attemptOpts.AttemptCount, "attempts", 1, "Number of guesses it took")
	attemptCmd.Flags().IntVar(&attemptOpts.TimeTaken, "time", 0, "Time taken in seconds")
	attemptCmd.Flags().IntVar(&attemptOpts.FirstGuessScore, "first-guess", 0, "Score of the first guess (0-100)")
	attemptCmd.Flags().IntVar(&attemptOpts.OverallScore, "score", 0, "Overall score (0-100)")
	rootCmd.AddCommand(attemptCmd)
}

func runAttempt(ctx context.Context, a types.Attempt) error {
	if err := validateAttempt(&a, time.Now()); err != nil {
		utils.ShowError("Invalid attempt", err)
		return err
	}

	if err := DB.RecordAttempt(ctx, a); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.ShowError("Unknown question (see `memquiz questions`)", err)
		} else {
			utils.ShowError("Failed to record attempt", err)
		}
		return err
	}

	fmt.Printf("✅ Attempt recorded for %s on %s\n", a.QuestionID, a.Day)
	return nil
}

// validateAttempt fills in the day and checks ranges.
func validateAttempt(a *types.Attempt, now time.Time) error {
	if a.Day == "" {
		a.Day = now.Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, a.Day); err != nil {
		return fmt.Errorf("invalid day %q, expected YYYY-MM-DD", a.Day)
	}
	if a.AttemptCount < 0 || a.TimeTaken < 0 {
		return fmt.Errorf("attempts and time must not be negative")
	}
	for _, s := range []int{a.FirstGuessScore, a.OverallScore} {
		if s < 0 || s > 100 {
			return fmt.Errorf("scores must be between 0 and 100, got %d", s)
		}
	}
	return nil
}
