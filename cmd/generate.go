package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/memquiz/internal/annotate"
	"github.com/andresmejia3/memquiz/internal/gallery"
	"github.com/andresmejia3/memquiz/internal/llm"
	"github.com/andresmejia3/memquiz/internal/pipeline"
	"github.com/andresmejia3/memquiz/internal/synth"
	"github.com/andresmejia3/memquiz/internal/transcript"
	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var generateOpts Options

var generateCmd = &cobra.Command{
	Use:         "generate",
	Short:       "Generate a recall question from a video",
	Annotations: map[string]string{dbAnnotation: dbUnlessDryRun},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGenerate(cmd.Context(), generateOpts)
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateOpts.InputPath, "input", "i", "", "Path to video")
	generateCmd.Flags().StringVarP(&generateOpts.FacesDir, "faces", "f", "", "Directory of reference photos named after each person (default: the gallery stored in the database)")
	generateCmd.Flags().Float64VarP(&generateOpts.Rate, "rate", "r", 1, "Sampled frames per second")
	generateCmd.Flags().IntVarP(&generateOpts.NumWorkers, "workers", "w", 4, "Number of frames described concurrently")
	generateCmd.Flags().Float64VarP(&generateOpts.MatchThreshold, "threshold", "t", gallery.DefaultTolerance, "Face matching threshold (lower is stricter)")
	generateCmd.Flags().StringVar(&generateOpts.CallTimeout, "timeout", "60s", "Timeout for each remote service call")
	generateCmd.Flags().IntVar(&generateOpts.Retries, "retries", pipeline.DefaultRetries, "Retries for a failed remote service call")
	generateCmd.Flags().StringVar(&generateOpts.RetryDelay, "retry-delay", "2s", "Base delay between retries (grows with each attempt)")
	generateCmd.Flags().BoolVar(&generateOpts.SkipFailedFrames, "skip-failed-frames", false, "Drop frames that cannot be described instead of aborting")
	generateCmd.Flags().BoolVar(&generateOpts.AllowPartialDecode, "allow-partial", false, "Use the frames decoded before a video decoding error")
	generateCmd.Flags().BoolVar(&generateOpts.AllowMissingTranscript, "allow-missing-transcript", false, "Continue without a transcript if transcription fails")
	generateCmd.Flags().BoolVar(&generateOpts.DryRun, "dry-run", false, "Print the question without saving it")
	generateCmd.Flags().BoolVarP(&generateOpts.Verbose, "verbose", "v", false, "Print every frame description")
	addEngineFlags(generateCmd, &generateOpts)

	generateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(generateCmd)
}

// runGenerate wires the face engine, gallery and remote services into a pipeline and runs it on one video.
func runGenerate(ctx context.Context, opts Options) error {
	if err := validateGenerateFlags(&opts); err != nil {
		utils.ShowError("Invalid options", err)
		return err
	}
	callTimeout, _ := time.ParseDuration(opts.CallTimeout)
	retryDelay, _ := time.ParseDuration(opts.RetryDelay)

	client, err := llm.New(llmConfigFromEnv())
	if err != nil {
		utils.ShowError("Remote services are not configured", err)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	eng, err := startEngine(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to start face engine", err)
		return err
	}
	defer eng.Close()

	g, err := loadGallery(ctx, opts, eng)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, eng.Logs()...)
		return err
	}
	if g.Len() == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  Gallery is empty: nobody will be identified and no who-questions can be asked.")
	} else {
		fmt.Fprintf(os.Stderr, "👥 Gallery: %s\n", strings.Join(g.Names(), ", "))
	}

	ann := annotate.New(eng, client)
	ann.Tolerance = opts.MatchThreshold
	ann.Timeout = callTimeout
	tr := transcript.New(client)
	tr.Timeout = callTimeout
	syn := synth.New(client)
	syn.Timeout = callTimeout

	p := pipeline.New(g, pipeline.Services{
		Annotator:   ann,
		Transcripts: tr,
		Synthesizer: syn,
	}, pipeline.Config{
		Workers:    opts.NumWorkers,
		Rate:       opts.Rate,
		Retries:    opts.Retries,
		RetryDelay: retryDelay,
		Policy: pipeline.Policy{
			SkipFailedFrames:       opts.SkipFailedFrames,
			AllowPartialDecode:     opts.AllowPartialDecode,
			AllowMissingTranscript: opts.AllowMissingTranscript,
		},
	})

	total := utils.ExpectedFrames(ctx, opts.InputPath, opts.Rate)
	if total <= 0 {
		// Fallback to a spinner if ffprobe fails
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎞️  Describing frames"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	p.Observer = func(d pipeline.FrameDone) {
		bar.Add(1)
		if d.Err != nil {
			fmt.Fprintf(os.Stderr, "\n⚠️  Frame %d failed: %v\n", d.Index, d.Err)
			return
		}
		if opts.Verbose {
			fmt.Fprintf(os.Stderr, "\n%s\n", describeFrame(d.Annotation, opts.Rate))
		}
	}

	fmt.Fprintf(os.Stderr, "📼 Processing %s\n", opts.InputPath)
	rec, err := p.Run(ctx, opts.InputPath)
	bar.Finish()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\n🛑 Cancelled. No question was produced.")
			return err
		}
		utils.ShowError(failureContext(err), err, eng.Logs()...)
		return err
	}

	if !opts.DryRun {
		if err := DB.SaveQnA(ctx, rec); err != nil {
			utils.ShowError("Failed to save question", err)
			return err
		}
		fmt.Fprintf(os.Stderr, "\n💾 Saved question %s\n", rec.ID)
	}
	printRecord(os.Stdout, rec)
	return nil
}

// loadGallery reads the reference photos, or falls back to the gallery synced into the database.
func loadGallery(ctx context.Context, opts Options, det *faceEngine) (*gallery.Gallery, error) {
	if opts.FacesDir != "" {
		fmt.Fprintf(os.Stderr, "🖼️  Loading reference photos from %s\n", opts.FacesDir)
		g, err := gallery.Load(ctx, opts.FacesDir, det)
		if err != nil {
			return nil, err
		}
		for _, name := range g.Skipped() {
			fmt.Fprintf(os.Stderr, "⚠️  Skipped %s: no usable face\n", name)
		}
		return g, nil
	}
	if DB == nil {
		return gallery.New()
	}
	identities, err := DB.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	return gallery.New(identities...)
}

func validateGenerateFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
	}
	if opts.FacesDir != "" {
		if info, err := os.Stat(opts.FacesDir); err != nil || !info.IsDir() {
			return fmt.Errorf("faces directory %q is not a readable directory", opts.FacesDir)
		}
	}
	if opts.Rate <= 0 {
		return fmt.Errorf("invalid rate: must be > 0, got %v", opts.Rate)
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.MatchThreshold <= 0 || opts.MatchThreshold > 1.0 {
		return fmt.Errorf("invalid match threshold: must be between 0.0 and 1.0, got %f", opts.MatchThreshold)
	}
	if opts.Retries < 0 {
		return fmt.Errorf("invalid retries: must be >= 0, got %d", opts.Retries)
	}
	if _, err := time.ParseDuration(opts.CallTimeout); err != nil {
		return fmt.Errorf("invalid timeout format (use '60s', '2m'): %w", err)
	}
	if _, err := time.ParseDuration(opts.RetryDelay); err != nil {
		return fmt.Errorf("invalid retry-delay format (use '2s', '500ms'): %w", err)
	}
	if opts.Engine != engineDlib && opts.Engine != enginePython {
		return fmt.Errorf("unknown engine %q (use %s or %s)", opts.Engine, engineDlib, enginePython)
	}
	return nil
}

// failureContext names the pipeline step that failed for the error report.
func failureContext(err error) string {
	switch {
	case errors.Is(err, types.ErrDecode):
		return "Video could not be decoded"
	case errors.Is(err, types.ErrFaceDetection):
		return "Face engine failed on a frame"
	case errors.Is(err, types.ErrDescriptionService):
		return "Frame description failed"
	case errors.Is(err, types.ErrTranscription):
		return "Audio transcription failed (use --allow-missing-transcript to continue without it)"
	case errors.Is(err, types.ErrSynthesisService):
		return "Question generation failed"
	case errors.Is(err, types.ErrSynthesisParse):
		return "Generated question was rejected"
	case errors.Is(err, types.ErrEmptyNarrative):
		return "Nothing to ask about: no frames and no speech"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out"
	}
	return "Question generation aborted"
}

func describeFrame(a types.FrameAnnotation, rate float64) string {
	ts := types.Frame{Index: a.FrameIndex}.Timestamp(rate).Seconds()
	who := ""
	if a.Match != nil && a.Match.Matched() {
		who = fmt.Sprintf(" (%s, %.2f)", a.Match.Name(), a.Match.Distance)
	}
	return fmt.Sprintf("[%s]%s %s", fmtTime(ts), who, a.Description)
}

func printRecord(w io.Writer, rec types.QnARecord) {
	fmt.Fprintf(w, "✅ Question [%s] %s\n", rec.Type, rec.Question)
	if len(rec.Options) > 0 {
		fmt.Fprintf(w, "   Options: %s\n", strings.Join(rec.Options, ", "))
	}
	fmt.Fprintf(w, "   Answer:  %s\n", rec.Answer)
	if rec.ProofLocation != "" {
		fmt.Fprintf(w, "   Proof:   %s\n", rec.ProofLocation)
	}
	if rec.ID != "" {
		fmt.Fprintf(w, "   ID:      %s\n", rec.ID)
	}
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
