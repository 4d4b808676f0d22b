package synth

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/memquiz/internal/types"
)

var people = []string{"Raymond", "Lindsay", "Jeong", "Ian"}

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, f.err
}

func narrative() types.Narrative {
	return types.Narrative{
		Annotations: []types.FrameAnnotation{
			{FrameIndex: 0, Description: "Lindsay blows out candles."},
			{FrameIndex: 1, Description: "Everyone claps."},
		},
		Transcript: "Happy birthday Lindsay!",
	}
}

func TestSynthesize_WhoQuestion(t *testing.T) {
	fc := &fakeCompleter{reply: `{"question_type":"mcq","question":"Who blew out the candles?","answer":"lindsay"}`}
	s := New(fc)
	s.NewID = func() string { return "q-1" }
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return fixed }

	rec, err := s.Synthesize(context.Background(), narrative(), people)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if rec.ID != "q-1" || !rec.CreatedAt.Equal(fixed) {
		t.Errorf("Unexpected id/time: %q %v", rec.ID, rec.CreatedAt)
	}
	if rec.Type != types.MCQ {
		t.Errorf("Expected mcq, got %q", rec.Type)
	}
	if rec.Answer != "Lindsay" {
		t.Errorf("Answer should use the gallery spelling, got %q", rec.Answer)
	}
	if !reflect.DeepEqual(rec.Options, people) {
		t.Errorf("Options = %v, want %v", rec.Options, people)
	}

	for _, want := range []string{"Raymond, Lindsay, Jeong, Ian", "Happy birthday Lindsay!", "Lindsay blows out candles. Everyone claps."} {
		if !strings.Contains(fc.prompt, want) {
			t.Errorf("Prompt is missing %q", want)
		}
	}
}

func TestSynthesize_ShortAnswer(t *testing.T) {
	fc := &fakeCompleter{reply: "```json\n{\"question_type\":\"short_answer\",\"question\":\"What was being celebrated?\",\"answer\":\"A birthday\"}\n```"}

	rec, err := New(fc).Synthesize(context.Background(), narrative(), people)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if rec.Type != types.ShortAnswer || rec.Answer != "A birthday" || rec.Options != nil {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.ID == "" {
		t.Error("Expected a generated ID")
	}
}

func TestSynthesize_ServiceFailure(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("connection reset")}

	_, err := New(fc).Synthesize(context.Background(), narrative(), people)
	if !errors.Is(err, types.ErrSynthesisService) {
		t.Fatalf("Expected ErrSynthesisService, got %v", err)
	}
	if errors.Is(err, types.ErrSynthesisParse) {
		t.Error("A service failure is not a parse failure")
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		known []string
	}{
		{name: "Not JSON", raw: "Who is this? Raymond.", known: people},
		{name: "Empty response", raw: "", known: people},
		{name: "Missing answer", raw: `{"question_type":"short_answer","question":"Where?"}`, known: people},
		{name: "Unknown type", raw: `{"question_type":"essay","question":"Why?","answer":"Because"}`, known: people},
		{name: "Who answer outside gallery", raw: `{"question_type":"mcq","question":"Who is holding the cake?","answer":"Bob"}`, known: people},
		{name: "Who question mislabeled as short answer", raw: `{"question_type":"short_answer","question":"Whose dog is that?","answer":"The neighbor"}`, known: people},
		{name: "Mid-sentence who with answer outside gallery", raw: `{"question_type":"short_answer","question":"At the birthday party, who handed you the cake?","answer":"Bob"}`, known: people},
		{name: "Typographic apostrophe who's", raw: `{"question_type":"short_answer","question":"At the lake, who’s holding the rod?","answer":"A fisherman"}`, known: people},
		{name: "Who question with no known people", raw: `{"question_type":"mcq","question":"Who waved?","answer":"Raymond"}`, known: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw, tt.known)
			if !errors.Is(err, types.ErrSynthesisParse) {
				t.Errorf("Expected ErrSynthesisParse, got %v", err)
			}
		})
	}
}

func TestParse_WhoQuestionMislabeledButValid(t *testing.T) {
	rec, err := Parse(`{"question_type":"short_answer","question":"Who's driving the car?","answer":"Ian."}`, people)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec.Type != types.MCQ || rec.Answer != "Ian" {
		t.Errorf("Expected mcq answered by Ian, got %+v", rec)
	}
}

func TestParse_MidSentenceWhoNormalized(t *testing.T) {
	rec, err := Parse(`{"question_type":"short_answer","question":"At the birthday party, who handed you the cake?","answer":"raymond"}`, people)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec.Type != types.MCQ || rec.Answer != "Raymond" || !reflect.DeepEqual(rec.Options, people) {
		t.Errorf("Expected mcq answered by Raymond with gallery options, got %+v", rec)
	}
}

func TestParse_TypeSpelling(t *testing.T) {
	rec, err := Parse(`{"question_type":"Short Answer","question":"What color was the car?","answer":"Red"}`, people)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Type != types.ShortAnswer {
		t.Errorf("Expected short_answer, got %q", rec.Type)
	}
}

func TestIsWhoQuestion(t *testing.T) {
	tests := []struct {
		q    string
		want bool
	}{
		{"Who is hugging Ian?", true},
		{"  whom did Raymond call?", true},
		{"Whose birthday was it?", true},
		{"Who's at the door?", true},
		{"\"Who\" sang first?", true},
		{"What did Lindsay eat?", false},
		{"Whoever arrived first, what did they bring?", false},
		{"At the birthday party, who handed you the cake?", true},
		{"After dinner, whom did Lindsay call?", true},
		{"In the kitchen, who’s cooking?", true},
		{"What did the man who lit the candles say?", true},
		{"What did the whole family eat?", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			if got := IsWhoQuestion(tt.q); got != tt.want {
				t.Errorf("IsWhoQuestion(%q) = %v, want %v", tt.q, got, tt.want)
			}
		})
	}
}

func TestPrompt_NoKnownPeople(t *testing.T) {
	p := Prompt(narrative(), nil)
	if !strings.Contains(p, "Do not ask who questions") {
		t.Errorf("Prompt should forbid who questions without a gallery: %q", p)
	}
}
