// Package video turns a video file into a sequence of sampled frames.
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os/exec"
	"strings"

	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils"
)

const megabyte = 1024 * 1024

// DefaultRate samples one frame per second.
const DefaultRate = 1.0

// Sampler decodes a video at a fixed rate. Every call to Frames starts a fresh decode,
// so the sequence can be iterated any number of times.
type Sampler struct {
	Path string
	Rate float64 // frames per second

	// Command builds the decoder process. It must write MJPEG frames to stdout.
	Command func(ctx context.Context, path string, rate float64) *exec.Cmd
}

// NewSampler returns a Sampler backed by ffmpeg.
func NewSampler(path string, rate float64) *Sampler {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Sampler{Path: path, Rate: rate, Command: utils.NewFFmpegSampler}
}

// Frames lazily decodes the video. Frames are yielded with strictly increasing indexes
// starting at 0. If decoding fails part way, the frames decoded so far are yielded first,
// followed by a *types.DecodeError; the sequence then ends. Stopping the iteration early
// kills the decoder.
func (s *Sampler) Frames(ctx context.Context) iter.Seq2[types.Frame, error] {
	return func(yield func(types.Frame, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := s.Command(ctx, s.Path, s.Rate)
		var stderrBuf bytes.Buffer
		cmd.Stderr = &stderrBuf

		out, err := cmd.StdoutPipe()
		if err != nil {
			yield(types.Frame{}, &types.DecodeError{Err: err})
			return
		}
		if err := cmd.Start(); err != nil {
			yield(types.Frame{}, &types.DecodeError{Err: fmt.Errorf("failed to start decoder: %w", err)})
			return
		}

		scanner := bufio.NewScanner(out)
		scanner.Buffer(make([]byte, megabyte), 64*megabyte)
		scanner.Split(utils.SplitJpeg)

		n := 0
		for scanner.Scan() {
			// The scanner reuses its buffer; each frame owns a copy.
			data := make([]byte, len(scanner.Bytes()))
			copy(data, scanner.Bytes())

			if !yield(types.Frame{Index: n, Data: data}, nil) {
				cancel()
				cmd.Wait()
				return
			}
			n++
		}

		scanErr := scanner.Err()
		if scanErr != nil {
			// Unblock the decoder so Wait can return.
			cancel()
		}
		waitErr := cmd.Wait()

		if err := ctx.Err(); err != nil && scanErr == nil {
			yield(types.Frame{}, &types.DecodeError{Frames: n, Err: err})
			return
		}
		if err := errors.Join(scanErr, decoderFailure(waitErr, &stderrBuf)); err != nil {
			yield(types.Frame{}, &types.DecodeError{Frames: n, Err: err})
		}
	}
}

func decoderFailure(err error, stderr *bytes.Buffer) error {
	if err == nil {
		return nil
	}
	if logs := strings.TrimSpace(stderr.String()); logs != "" {
		return fmt.Errorf("decoder exited: %w: %s", err, logs)
	}
	return fmt.Errorf("decoder exited: %w", err)
}
