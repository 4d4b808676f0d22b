package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/spf13/cobra"
)

var questionsCmd = &cobra.Command{
	Use:         "questions [question_id]",
	Short:       "List generated questions, or show one in full",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) == 1 {
			return runShowQuestion(cmd.Context(), args[0])
		}
		return runQuestions(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(questionsCmd)
}

func runQuestions(ctx context.Context) error {
	records, err := DB.ListQnA(ctx)
	if err != nil {
		utils.ShowError("Failed to list questions", err)
		return err
	}

	if len(records) == 0 {
		fmt.Println("No questions found in database.")
		return nil
	}
	writeQuestionTable(os.Stdout, records)
	return nil
}

func writeQuestionTable(out io.Writer, records []types.QnARecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tQUESTION\tANSWER\tCREATED")
	fmt.Fprintln(w, "--\t----\t--------\t------\t-------")

	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Type, truncate(rec.Question, 60), truncate(rec.Answer, 30),
			rec.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runShowQuestion(ctx context.Context, id string) error {
	rec, err := DB.GetQnA(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load question", err)
		return err
	}
	printRecord(os.Stdout, rec)
	return nil
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
