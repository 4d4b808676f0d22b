package gallery

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andresmejia3/memquiz/internal/types"
)

// fakeDetector returns the faces registered for an image's raw contents.
type fakeDetector struct {
	faces map[string][]types.Embedding
	fail  map[string]bool
}

func (f fakeDetector) Detect(_ context.Context, img []byte) ([]types.Embedding, error) {
	if f.fail[string(img)] {
		return nil, errors.New("engine exploded")
	}
	return f.faces[string(img)], nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// along returns a 2-d embedding at distance d from the origin on the X axis.
func along(d float64) types.Embedding {
	return types.Embedding{d, 0}
}

func TestMatch(t *testing.T) {
	g, err := New(types.Identity{Name: "Alice", Embedding: along(0)})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		probe    types.Embedding
		wantName string
		wantDist float64
	}{
		{name: "Close face matches", probe: along(0.2), wantName: "Alice", wantDist: 0.2},
		{name: "Far face does not match", probe: along(0.9), wantName: "", wantDist: 0.9},
		{name: "Exactly at tolerance matches", probe: along(0.6), wantName: "Alice", wantDist: 0.6},
		{name: "Just past tolerance does not match", probe: along(0.6000001), wantName: "", wantDist: 0.6000001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Match(tt.probe, g, DefaultTolerance)
			if m.Name() != tt.wantName {
				t.Errorf("Match() identity = %q, want %q", m.Name(), tt.wantName)
			}
			if math.Abs(m.Distance-tt.wantDist) > 1e-9 {
				t.Errorf("Match() distance = %v, want %v", m.Distance, tt.wantDist)
			}
		})
	}
}

func TestMatch_PicksNearest(t *testing.T) {
	// Both entries are within tolerance; the nearer one must win even though it comes second.
	g, _ := New(
		types.Identity{Name: "Raymond", Embedding: types.Embedding{0.5, 0}},
		types.Identity{Name: "Lindsay", Embedding: types.Embedding{0.1, 0}},
	)

	m := g.Match(types.Embedding{0, 0}, DefaultTolerance)
	if m.Name() != "Lindsay" {
		t.Errorf("Expected nearest identity Lindsay, got %q", m.Name())
	}
}

func TestMatch_TieGoesToFirst(t *testing.T) {
	g, _ := New(
		types.Identity{Name: "Jeong", Embedding: types.Embedding{0.3, 0}},
		types.Identity{Name: "Ian", Embedding: types.Embedding{-0.3, 0}},
	)

	for i := 0; i < 10; i++ {
		if m := g.Match(types.Embedding{0, 0}, DefaultTolerance); m.Name() != "Jeong" {
			t.Fatalf("Expected tie to resolve to Jeong, got %q", m.Name())
		}
	}
}

func TestMatch_EmptyGallery(t *testing.T) {
	g, _ := New()
	m := Match(along(0), g, DefaultTolerance)
	if m.Matched() {
		t.Errorf("Empty gallery matched %q", m.Name())
	}
	if m.Distance < 0 {
		t.Errorf("Distance must be non-negative, got %v", m.Distance)
	}
}

func TestMatch_DimensionMismatch(t *testing.T) {
	g, _ := New(types.Identity{Name: "Alice", Embedding: along(0)})
	if m := g.Match(types.Embedding{0, 0, 0}, DefaultTolerance); m.Matched() {
		t.Error("Embeddings of different length must never match")
	}
}

func TestMatch_DoesNotMutateGallery(t *testing.T) {
	g, _ := New(types.Identity{Name: "Alice", Embedding: along(0)})
	before := g.Identities()

	g.Match(along(0.1), DefaultTolerance)
	g.Match(along(5), DefaultTolerance)

	if !reflect.DeepEqual(before, g.Identities()) {
		t.Error("Matching changed the gallery")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(types.Identity{Name: "", Embedding: along(0)}); err == nil {
		t.Error("Expected error for empty name")
	}
	if _, err := New(
		types.Identity{Name: "Alice", Embedding: along(0)},
		types.Identity{Name: "Alice", Embedding: along(1)},
	); err == nil {
		t.Error("Expected error for duplicate name")
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Embedding
		want float64
	}{
		{name: "Identical", a: types.Embedding{1, 2}, b: types.Embedding{1, 2}, want: 0},
		{name: "3-4-5 triangle", a: types.Embedding{0, 0}, b: types.Embedding{3, 4}, want: 5},
		{name: "Length mismatch", a: types.Embedding{1}, b: types.Embedding{1, 2}, want: math.Inf(1)},
		{name: "Empty", a: types.Embedding{}, b: types.Embedding{}, want: math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Raymond.jpg", "raymond")
	writeFile(t, dir, "Lindsay.JPEG", "lindsay")
	writeFile(t, dir, "landscape.jpg", "landscape") // no face
	writeFile(t, dir, "broken.jpg", "broken")       // engine failure
	writeFile(t, dir, "notes.txt", "raymond")       // not an image
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0755); err != nil {
		t.Fatal(err)
	}

	det := fakeDetector{
		faces: map[string][]types.Embedding{
			"raymond": {{1, 0}, {9, 9}},
			"lindsay": {{0, 1}},
		},
		fail: map[string]bool{"broken": true},
	}

	g, err := Load(context.Background(), dir, det)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// ReadDir sorts by name: "Lindsay.JPEG" < "Raymond.jpg"
	if want := []string{"Lindsay", "Raymond"}; !reflect.DeepEqual(g.Names(), want) {
		t.Fatalf("Names() = %v, want %v", g.Names(), want)
	}

	// Only the first detected face is used.
	ids := g.Identities()
	if !reflect.DeepEqual(ids[1].Embedding, types.Embedding{1, 0}) {
		t.Errorf("Expected first face embedding for Raymond, got %v", ids[1].Embedding)
	}

	if want := []string{"broken.jpg", "landscape.jpg"}; !reflect.DeepEqual(g.Skipped(), want) {
		t.Errorf("Skipped() = %v, want %v", g.Skipped(), want)
	}
}

func TestLoad_DuplicateBaseName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Ian.jpeg", "first")
	writeFile(t, dir, "Ian.jpg", "second")

	det := fakeDetector{faces: map[string][]types.Embedding{
		"first":  {{1}},
		"second": {{2}},
	}}

	g, err := Load(context.Background(), dir, det)
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 1 {
		t.Fatalf("Expected 1 identity, got %d", g.Len())
	}
	if got := g.Identities()[0].Embedding; !reflect.DeepEqual(got, types.Embedding{1}) {
		t.Errorf("Expected the first file in name order to win, got %v", got)
	}
}

func TestLoad_NoFaces(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty_room.jpg", "room")

	g, err := Load(context.Background(), dir, fakeDetector{})
	if err != nil {
		t.Fatalf("A gallery without faces must still load, got %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Expected empty gallery, got %d identities", g.Len())
	}
	if m := g.Match(types.Embedding{0, 0}, DefaultTolerance); m.Matched() {
		t.Error("Empty gallery must never match")
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"), fakeDetector{})
	if !errors.Is(err, types.ErrGalleryLoad) {
		t.Fatalf("Expected ErrGalleryLoad, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected the underlying not-exist error to be kept, got %v", err)
	}
}
