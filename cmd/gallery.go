package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/memquiz/internal/gallery"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/spf13/cobra"
)

var galleryOpts Options

var galleryCmd = &cobra.Command{
	Use:         "gallery",
	Short:       "Load reference photos and list the people they identify",
	Long:        "Each JPEG in the faces directory is one person, named after the file. Use --sync to store the gallery in the database for find and generate.",
	Annotations: map[string]string{dbAnnotation: dbWithSync},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGallery(cmd.Context(), galleryOpts)
	},
}

func init() {
	galleryCmd.Flags().StringVarP(&galleryOpts.FacesDir, "faces", "f", "", "Directory of reference photos")
	galleryCmd.Flags().BoolVar(&galleryOpts.Sync, "sync", false, "Replace the gallery stored in the database with this one")
	addEngineFlags(galleryCmd, &galleryOpts)

	galleryCmd.MarkFlagRequired("faces")
	rootCmd.AddCommand(galleryCmd)
}

func runGallery(ctx context.Context, opts Options) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	eng, err := startEngine(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to start face engine", err)
		return err
	}
	defer eng.Close()

	g, err := gallery.Load(ctx, opts.FacesDir, eng)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, eng.Logs()...)
		return err
	}

	for _, name := range g.Skipped() {
		fmt.Fprintf(os.Stderr, "⚠️  Skipped %s: no usable face\n", name)
	}
	if g.Len() == 0 {
		fmt.Println("No identities found in the reference photos.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "#\tNAME\tDIMS")
		fmt.Fprintln(w, "-\t----\t----")
		for i, id := range g.Identities() {
			fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, id.Name, len(id.Embedding))
		}
		w.Flush()
	}

	if opts.Sync {
		fmt.Fprintln(os.Stderr, "🗄️  Syncing gallery to database...")
		if err := DB.SyncGallery(ctx, g.Identities()); err != nil {
			utils.ShowError("Failed to sync gallery", err)
			return err
		}
		fmt.Printf("✅ Stored %d identities\n", g.Len())
	}
	return nil
}
