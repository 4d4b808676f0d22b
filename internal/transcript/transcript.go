// Package transcript turns the audio track of a video into text.
package transcript

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils"
)

// Transcriber is a speech-to-text service.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, name string) (string, error)
}

// Extractor pulls the whole audio track out of a video and sends it in a single call.
type Extractor struct {
	Transcriber Transcriber
	// Audio returns the encoded audio track. Defaults to an ffmpeg mp3 extraction.
	Audio   func(ctx context.Context, path string) ([]byte, error)
	Timeout time.Duration // per speech call, 0 disables
}

func New(t Transcriber) *Extractor {
	return &Extractor{
		Transcriber: t,
		Audio:       utils.ExtractAudio,
		Timeout:     2 * time.Minute,
	}
}

// Extract returns the transcript of the video at path. Both unreadable audio and a
// failed service call are reported as types.ErrTranscription.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	audio, err := e.Audio(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: reading audio of %s: %w", types.ErrTranscription, filepath.Base(path), err)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.Timeout)
	}
	defer cancel()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".mp3"
	text, err := e.Transcriber.Transcribe(callCtx, bytes.NewReader(audio), name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrTranscription, err)
	}
	return text, nil
}
