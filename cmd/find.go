package cmd

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/andresmejia3/memquiz/internal/gallery"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/spf13/cobra"
)

var findOpts Options

var findCmd = &cobra.Command{
	Use:         "find <image_path>",
	Short:       "Identify the person in a photo against the stored gallery",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0], findOpts)
	},
}

func init() {
	findCmd.Flags().Float64VarP(&findOpts.MatchThreshold, "threshold", "t", gallery.DefaultTolerance, "Face matching threshold")
	addEngineFlags(findCmd, &findOpts)
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string, opts Options) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	eng, err := startEngine(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to start face engine", err)
		return err
	}
	defer eng.Close()

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := eng.Detect(ctx, imgData)
	if err != nil {
		utils.ShowError("Face detection failed", err, eng.Logs()...)
		return err
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	if len(faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the first face.\n", len(faces))
	}

	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	m, err := DB.FindClosestIdentity(ctx, faces[0], opts.MatchThreshold)
	if err != nil {
		utils.ShowError("Database search failed", err)
		return err
	}

	if !m.Matched() {
		if math.IsInf(m.Distance, 1) {
			fmt.Println("❌ No match found in database (gallery empty or from another engine).")
		} else {
			fmt.Printf("❌ No match found in database (closest distance %.3f).\n", m.Distance)
		}
		return nil
	}

	fmt.Printf("✅ Found Match: %s (distance %.3f)\n", m.Name(), m.Distance)
	return nil
}
