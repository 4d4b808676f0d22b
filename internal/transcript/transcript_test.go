package transcript

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/andresmejia3/memquiz/internal/types"
)

type fakeTranscriber struct {
	text string
	err  error

	gotAudio string
	gotName  string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio io.Reader, name string) (string, error) {
	b, _ := io.ReadAll(audio)
	f.gotAudio = string(b)
	f.gotName = name
	return f.text, f.err
}

func staticAudio(data string, err error) func(context.Context, string) ([]byte, error) {
	return func(context.Context, string) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		return []byte(data), nil
	}
}

func TestExtract(t *testing.T) {
	ft := &fakeTranscriber{text: "Happy birthday, Ian!"}
	e := New(ft)
	e.Audio = staticAudio("mp3-bytes", nil)

	got, err := e.Extract(context.Background(), "/videos/party.MOV")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != "Happy birthday, Ian!" {
		t.Errorf("Unexpected transcript %q", got)
	}
	if ft.gotAudio != "mp3-bytes" {
		t.Errorf("Audio not forwarded, got %q", ft.gotAudio)
	}
	if ft.gotName != "party.mp3" {
		t.Errorf("Expected upload name party.mp3, got %q", ft.gotName)
	}
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name  string
		audio func(context.Context, string) ([]byte, error)
		svc   *fakeTranscriber
	}{
		{
			name:  "Unreadable audio",
			audio: staticAudio("", errors.New("video has no audio track")),
			svc:   &fakeTranscriber{},
		},
		{
			name:  "Service failure",
			audio: staticAudio("mp3-bytes", nil),
			svc:   &fakeTranscriber{err: errors.New("status code: 500")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.svc)
			e.Audio = tt.audio

			_, err := e.Extract(context.Background(), "clip.mp4")
			if !errors.Is(err, types.ErrTranscription) {
				t.Errorf("Expected ErrTranscription, got %v", err)
			}
		})
	}
}
