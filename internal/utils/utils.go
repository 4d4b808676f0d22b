package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (engine and FFmpeg logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps child process logs if SafeCommands are provided.
func ShowError(context string, err error, cmds ...*SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 MEMQUIZ ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	for _, s := range cmds {
		if s != nil && s.Stderr.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nENGINE LOGS:\n%s\n", s.Stderr.String())
		}
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for unrecoverable startup failures.
func Die(context string, err error, cmds ...*SafeCommand) {
	ShowError(context, err, cmds...)
	os.Exit(1)
}

// --- 2. Video Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// ProbeDuration uses ffprobe to read the container duration in seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("ffprobe not found: %w", err)
	}

	type ffprobeOutput struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(res.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration parse error: %w", err)
	}
	return d, nil
}

// ExpectedFrames estimates how many frames a video yields when sampled at rate frames per second.
// It returns 0 if the duration is unknown, allowing callers to fall back to a spinner.
func ExpectedFrames(ctx context.Context, path string, rate float64) int {
	d, err := ProbeDuration(ctx, path)
	if err != nil || d <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Ceil(d * rate))
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegSampler creates a decoder pipe that emits rate frames per second as MJPEG on Stdout.
func NewFFmpegSampler(ctx context.Context, inputPath string, rate float64) *exec.Cmd {
	// -hide_banner and -loglevel error keep the stderr buffer small
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vf", "fps="+strconv.FormatFloat(rate, 'f', -1, 64),
		"-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// ExtractAudio decodes the audio track to mono 16 kHz MP3 in memory, the format speech services expect.
func ExtractAudio(ctx context.Context, inputPath string) ([]byte, error) {
	cmd := NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath, "-vn", "-ac", "1", "-ar", "16000", "-f", "mp3", "-")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(cmd.Stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg audio extraction failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg audio extraction failed: %w", err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("video has no audio track")
	}
	return out.Bytes(), nil
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
