package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/memquiz/internal/store"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for generate, gallery, and find commands
type Options struct {
	InputPath              string
	FacesDir               string
	Rate                   float64
	NumWorkers             int
	MatchThreshold         float64
	Engine                 string
	ModelsDir              string
	NumEngines             int
	WorkerTimeout          string
	CallTimeout            string
	Retries                int
	RetryDelay             string
	SkipFailedFrames       bool
	AllowPartialDecode     bool
	AllowMissingTranscript bool
	DryRun                 bool
	Sync                   bool
	Verbose                bool
}

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// dbURL is the connection string
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

// Commands declare their database needs with this annotation.
const (
	dbAnnotation   = "db"
	dbRequired     = "required"
	dbUnlessDryRun = "unless-dry-run"
	dbWithSync     = "with-sync"
)

var rootCmd = &cobra.Command{
	Use:     "memquiz",
	Short:   "Turn personal videos into memory-training quiz questions",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !wantsDB(cmd) {
			return nil
		}

		// Initialize DB connection
		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), resolveDBURL(dbURL))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func wantsDB(cmd *cobra.Command) bool {
	switch cmd.Annotations[dbAnnotation] {
	case dbRequired:
		return true
	case dbUnlessDryRun:
		dry, _ := cmd.Flags().GetBool("dry-run")
		return !dry
	case dbWithSync:
		sync, _ := cmd.Flags().GetBool("sync")
		return sync
	}
	return false
}

// resolveDBURL returns flagURL if set, otherwise builds the connection string from the environment.
func resolveDBURL(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/memquiz"
}

func Execute() {
	// API keys and database settings usually live in .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.Die("Failed to read .env", err)
	}

	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL, POSTGRES_* or postgres://localhost:5432/memquiz)")
}
