package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/memquiz/internal/face"
	"github.com/andresmejia3/memquiz/internal/llm"
	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/andresmejia3/memquiz/internal/worker"
	"github.com/spf13/cobra"
)

const (
	engineDlib   = "dlib"
	enginePython = "python"
)

// faceEngine is a running face detector plus what is needed to stop it and report its crashes.
type faceEngine struct {
	types.Detector
	close func()
	logs  func() []*utils.SafeCommand
}

// Logs returns the engine processes whose stderr belongs in a crash report.
func (e *faceEngine) Logs() []*utils.SafeCommand {
	if e.logs == nil {
		return nil
	}
	return e.logs()
}

func (e *faceEngine) Close() {
	if e.close != nil {
		e.close()
	}
}

// startEngine launches the face engine selected by opts.Engine.
func startEngine(ctx context.Context, opts Options) (*faceEngine, error) {
	switch opts.Engine {
	case engineDlib, "":
		d, err := face.NewDlibDetector(opts.ModelsDir)
		if err != nil {
			return nil, err
		}
		return &faceEngine{Detector: d, close: d.Close}, nil

	case enginePython:
		timeout, err := time.ParseDuration(opts.WorkerTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid worker timeout %q: %w", opts.WorkerTimeout, err)
		}
		fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Python face engines...\n", opts.NumEngines)
		pool, err := worker.NewPool(ctx, opts.NumEngines, worker.Config{ReadTimeout: timeout})
		if err != nil {
			return nil, err
		}
		return &faceEngine{Detector: pool, close: pool.Close, logs: pool.Logs}, nil
	}
	return nil, fmt.Errorf("unknown engine %q (use %s or %s)", opts.Engine, engineDlib, enginePython)
}

// addEngineFlags registers the face engine flags shared by generate, gallery and find.
func addEngineFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVar(&opts.Engine, "engine", engineDlib, "Face engine: dlib (in-process) or python (face_recognition subprocesses)")
	cmd.Flags().StringVar(&opts.ModelsDir, "models", envOr("MEMQUIZ_MODELS_DIR", "models"), "Directory holding the dlib model files")
	cmd.Flags().IntVar(&opts.NumEngines, "engines", 1, "Number of Python engine processes (python engine only)")
	cmd.Flags().StringVar(&opts.WorkerTimeout, "worker-timeout", "30s", "Max time a Python engine may take for one image")
}

// llmConfigFromEnv reads the remote service settings.
func llmConfigFromEnv() llm.Config {
	return llm.Config{
		APIKey:          os.Getenv("OPENAI_API_KEY"),
		BaseURL:         os.Getenv("OPENAI_BASE_URL"),
		VisionModel:     os.Getenv("MEMQUIZ_VISION_MODEL"),
		ChatModel:       os.Getenv("MEMQUIZ_CHAT_MODEL"),
		TranscribeModel: os.Getenv("MEMQUIZ_TRANSCRIBE_MODEL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
