package types

import (
	"context"
	"strings"
	"time"
)

// Embedding is a fixed-length face descriptor. Two embeddings are compared by Euclidean distance.
type Embedding []float64

// Detector finds every face in a JPEG image and returns one embedding per face,
// in the order the engine reports them.
type Detector interface {
	Detect(ctx context.Context, img []byte) ([]Embedding, error)
}

// Identity is one known person in the gallery.
type Identity struct {
	Name      string
	Embedding Embedding
}

// Frame represents a single sampled frame. Data holds the JPEG bytes exactly as the decoder produced them.
type Frame struct {
	Index int
	Data  []byte
}

// Timestamp returns the position of the frame in the video for a given sampling rate (frames per second).
func (f Frame) Timestamp(rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(f.Index) / rate * float64(time.Second))
}

// FaceMatch is the result of comparing one detected face against the gallery.
// Identity points into the gallery and is nil when nothing was within tolerance.
type FaceMatch struct {
	Identity *Identity
	Distance float64
}

// Matched reports whether the face was identified.
func (m FaceMatch) Matched() bool {
	return m.Identity != nil
}

// Name returns the matched identity name, or "" when unmatched.
func (m FaceMatch) Name() string {
	if m.Identity == nil {
		return ""
	}
	return m.Identity.Name
}

// FrameAnnotation is the description of one sampled frame.
type FrameAnnotation struct {
	FrameIndex  int
	Match       *FaceMatch // nil when no face was detected
	Description string
}

// NarrativeDelimiter separates frame descriptions in Narrative.Text.
const NarrativeDelimiter = " "

// Narrative fuses the per-frame descriptions of a video with its audio transcript.
type Narrative struct {
	Annotations []FrameAnnotation
	Transcript  string
}

// Text returns the frame descriptions in frame order, joined by NarrativeDelimiter.
func (n Narrative) Text() string {
	parts := make([]string, len(n.Annotations))
	for i, a := range n.Annotations {
		parts[i] = a.Description
	}
	return strings.Join(parts, NarrativeDelimiter)
}

// QuestionType tags how a quiz question is answered.
type QuestionType string

const (
	// MCQ questions are who-questions answered by picking a known identity.
	MCQ QuestionType = "mcq"
	// ShortAnswer questions are answered with short free text.
	ShortAnswer QuestionType = "short_answer"
)

// QnARecord is the question/answer pair generated for one video.
type QnARecord struct {
	ID            string
	VideoID       string
	Type          QuestionType
	Question      string
	Answer        string
	Options       []string // answer choices for MCQ questions
	ProofLocation string   // media that proves the answer, usually the source video
	CreatedAt     time.Time
}

// Attempt is one recorded try at answering a quiz question.
type Attempt struct {
	QuestionID      string
	Day             string // YYYY-MM-DD
	AttemptCount    int
	TimeTaken       int // seconds
	FirstGuessScore int
	OverallScore    int
}

// DayAccuracy aggregates attempts recorded on a single day.
type DayAccuracy struct {
	Day             string
	Attempts        int
	FirstGuessScore float64
	OverallScore    float64
}
