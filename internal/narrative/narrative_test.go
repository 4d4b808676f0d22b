package narrative

import (
	"errors"
	"testing"

	"github.com/andresmejia3/memquiz/internal/types"
)

func annotations(indexes ...int) []types.FrameAnnotation {
	out := make([]types.FrameAnnotation, len(indexes))
	for i, idx := range indexes {
		out[i] = types.FrameAnnotation{FrameIndex: idx, Description: "D" + string(rune('0'+idx))}
	}
	return out
}

func TestAggregate(t *testing.T) {
	n, err := Aggregate(annotations(0, 1, 2), "T")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if got := n.Text(); got != "D0 D1 D2" {
		t.Errorf("Text() = %q, want %q", got, "D0 D1 D2")
	}
	if n.Transcript != "T" {
		t.Errorf("Transcript = %q, want %q", n.Transcript, "T")
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	in := annotations(0, 3, 7)
	a, _ := Aggregate(in, "T")
	b, _ := Aggregate(in, "T")
	if a.Text() != b.Text() {
		t.Errorf("Aggregation is not deterministic: %q vs %q", a.Text(), b.Text())
	}
}

func TestAggregate_GapsAllowed(t *testing.T) {
	// Skipped frames leave gaps; only the order matters.
	if _, err := Aggregate(annotations(0, 2, 5), ""); err != nil {
		t.Errorf("Unexpected error for sparse indexes: %v", err)
	}
}

func TestAggregate_Empty(t *testing.T) {
	n, err := Aggregate(nil, "only audio")
	if err != nil {
		t.Fatal(err)
	}
	if n.Text() != "" || n.Transcript != "only audio" {
		t.Errorf("Unexpected narrative %+v", n)
	}
}

func TestAggregate_RejectsBadOrder(t *testing.T) {
	tests := []struct {
		name    string
		indexes []int
	}{
		{name: "Duplicate", indexes: []int{0, 1, 1, 2}},
		{name: "Descending", indexes: []int{0, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Aggregate(annotations(tt.indexes...), "T")
			if !errors.Is(err, types.ErrInvalidAnnotations) {
				t.Errorf("Expected ErrInvalidAnnotations, got %v", err)
			}
		})
	}
}

func TestAggregate_DoesNotAlias(t *testing.T) {
	in := annotations(0, 1)
	n, _ := Aggregate(in, "")
	in[0].Description = "changed"
	if n.Annotations[0].Description != "D0" {
		t.Error("Narrative must not share the caller's slice")
	}
}
