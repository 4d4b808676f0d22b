package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:         "stats",
	Short:       "Show quiz accuracy per day",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStats(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(ctx context.Context) error {
	days, err := DB.Accuracy(ctx)
	if err != nil {
		utils.ShowError("Failed to compute accuracy", err)
		return err
	}

	if len(days) == 0 {
		fmt.Println("No attempts recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DAY\tATTEMPTS\tFIRST GUESS\tOVERALL")
	fmt.Fprintln(w, "---\t--------\t-----------\t-------")
	for _, d := range days {
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\n", d.Day, d.Attempts, d.FirstGuessScore, d.OverallScore)
	}
	w.Flush()
	return nil
}
