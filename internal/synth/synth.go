// Package synth asks a language model for one recall question about a narrative and
// verifies the result before it becomes a QnARecord.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/google/uuid"
)

// Completer is a text generation service that answers with a JSON object.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Synthesizer struct {
	Completer Completer
	Timeout   time.Duration // per generation call, 0 disables
	NewID     func() string
	Now       func() time.Time
}

func New(c Completer) *Synthesizer {
	return &Synthesizer{
		Completer: c,
		Timeout:   60 * time.Second,
		NewID:     uuid.NewString,
		Now:       time.Now,
	}
}

// generated is the shape the model is told to answer with.
type generated struct {
	QuestionType string `json:"question_type"`
	Question     string `json:"question"`
	Answer       string `json:"answer"`
}

// Synthesize builds one question from the narrative. Who-questions must be answered with one
// of known (matched case-insensitively, returned in the spelling given in known); any other
// answer is rejected with types.ErrSynthesisParse rather than accepted.
func (s *Synthesizer) Synthesize(ctx context.Context, n types.Narrative, known []string) (types.QnARecord, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	defer cancel()

	raw, err := s.Completer.Complete(callCtx, Prompt(n, known))
	if err != nil {
		return types.QnARecord{}, fmt.Errorf("%w: %w", types.ErrSynthesisService, err)
	}

	rec, err := Parse(raw, known)
	if err != nil {
		return types.QnARecord{}, err
	}
	rec.ID = s.NewID()
	rec.CreatedAt = s.Now().UTC()
	return rec, nil
}

// Prompt renders the generation request with both fusion rules spelled out.
func Prompt(n types.Narrative, known []string) string {
	var b strings.Builder
	b.WriteString("You are making a question and answer for someone with memory loss. ")
	b.WriteString("You are given an audio transcript and a description of a video from their life. ")
	b.WriteString("Create one question and its answer that tests the user's recall of the memory.\n")

	if len(known) > 0 {
		fmt.Fprintf(&b, "If the question is a who question, the answer must be exactly one of these people: %s. ", strings.Join(known, ", "))
		b.WriteString("Who questions use question_type \"mcq\". Any question containing the word who, whom or whose counts as a who question.\n")
	} else {
		b.WriteString("Do not ask who questions and do not use the words who, whom or whose.\n")
	}
	b.WriteString("Otherwise the question is a short answer question with question_type \"short_answer\" and an answer of a few words.\n\n")

	fmt.Fprintf(&b, "The audio transcript is: %s\n", n.Transcript)
	fmt.Fprintf(&b, "The video description described by an AI vision model is: %s\n", n.Text())
	b.WriteString("The vision model looked at one frame of the video every second.\n\n")

	b.WriteString(`Respond with a JSON object only: {"question_type": "mcq" or "short_answer", "question": "...", "answer": "..."}`)
	return b.String()
}

// Parse turns a model response into a QnARecord without ID or timestamps.
func Parse(raw string, known []string) (types.QnARecord, error) {
	var g generated
	if err := json.Unmarshal([]byte(stripFences(raw)), &g); err != nil {
		return types.QnARecord{}, fmt.Errorf("%w: %w", types.ErrSynthesisParse, err)
	}

	g.Question = strings.TrimSpace(g.Question)
	g.Answer = strings.TrimSpace(g.Answer)
	if g.Question == "" || g.Answer == "" {
		return types.QnARecord{}, fmt.Errorf("%w: question and answer must not be empty", types.ErrSynthesisParse)
	}

	qt, ok := normalizeType(g.QuestionType)
	if !ok {
		return types.QnARecord{}, fmt.Errorf("%w: unknown question_type %q", types.ErrSynthesisParse, g.QuestionType)
	}

	rec := types.QnARecord{Question: g.Question, Answer: g.Answer, Type: types.ShortAnswer}
	if qt != types.MCQ && !IsWhoQuestion(g.Question) {
		return rec, nil
	}

	if len(known) == 0 {
		return types.QnARecord{}, fmt.Errorf("%w: who question %q with no known people", types.ErrSynthesisParse, g.Question)
	}
	name, ok := lookup(g.Answer, known)
	if !ok {
		return types.QnARecord{}, fmt.Errorf("%w: answer %q is not one of %v", types.ErrSynthesisParse, g.Answer, known)
	}
	rec.Type = types.MCQ
	rec.Answer = name
	rec.Options = append([]string(nil), known...)
	return rec, nil
}

// IsWhoQuestion reports whether q asks for a person: who, whom, whose or who's
// appears as a word anywhere in it, not only at the start.
func IsWhoQuestion(q string) bool {
	q = strings.ReplaceAll(q, "’", "'")
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, "'"))
		if i := strings.IndexByte(w, '\''); i >= 0 {
			w = w[:i] // who's, who'd, who've
		}
		switch w {
		case "who", "whom", "whose":
			return true
		}
	}
	return false
}

func normalizeType(s string) (types.QuestionType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch types.QuestionType(s) {
	case types.MCQ:
		return types.MCQ, true
	case types.ShortAnswer:
		return types.ShortAnswer, true
	}
	return "", false
}

func lookup(answer string, known []string) (string, bool) {
	answer = strings.TrimRight(answer, ".!")
	for _, k := range known {
		if strings.EqualFold(strings.TrimSpace(answer), k) {
			return k, true
		}
	}
	return "", false
}

// stripFences removes a ```json ... ``` wrapper some models add despite the JSON response format.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
