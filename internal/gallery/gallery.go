// Package gallery holds the closed set of known people and matches detected faces against it.
package gallery

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/memquiz/internal/types"
)

// DefaultTolerance is the largest Euclidean distance accepted as the same person.
const DefaultTolerance = 0.6

// Gallery is an ordered, read-only set of reference identities.
// It is never mutated after construction and may be shared between goroutines without locking.
type Gallery struct {
	identities []types.Identity
	skipped    []string
}

// New builds a gallery from identities in the given order.
// Names must be non-empty and unique.
func New(identities ...types.Identity) (*Gallery, error) {
	seen := make(map[string]bool, len(identities))
	g := &Gallery{identities: make([]types.Identity, 0, len(identities))}
	for _, id := range identities {
		if id.Name == "" {
			return nil, fmt.Errorf("identity name must not be empty")
		}
		if seen[id.Name] {
			return nil, fmt.Errorf("duplicate identity %q", id.Name)
		}
		seen[id.Name] = true
		g.identities = append(g.identities, types.Identity{
			Name:      id.Name,
			Embedding: append(types.Embedding(nil), id.Embedding...),
		})
	}
	return g, nil
}

// Load builds a gallery from a directory of reference photos. Each JPEG contributes the
// first face the detector finds, registered under the file's base name. Photos without a
// usable face are skipped; only an unreadable directory is an error.
func Load(ctx context.Context, dir string, det types.Detector) (*Gallery, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrGalleryLoad, err)
	}

	g := &Gallery{}
	seen := make(map[string]bool)
	// ReadDir returns entries sorted by filename, which fixes the gallery order.
	for _, e := range entries {
		if e.IsDir() || !isReferenceImage(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if name == "" || seen[name] {
			g.skipped = append(g.skipped, e.Name())
			continue
		}

		img, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			g.skipped = append(g.skipped, e.Name())
			continue
		}
		faces, err := det.Detect(ctx, img)
		if err != nil || len(faces) == 0 {
			g.skipped = append(g.skipped, e.Name())
			continue
		}

		seen[name] = true
		g.identities = append(g.identities, types.Identity{Name: name, Embedding: faces[0]})
	}
	return g, nil
}

func isReferenceImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// Len returns the number of identities.
func (g *Gallery) Len() int {
	return len(g.identities)
}

// Identities returns a copy of the identities in gallery order.
func (g *Gallery) Identities() []types.Identity {
	out := make([]types.Identity, len(g.identities))
	copy(out, g.identities)
	return out
}

// Names returns the identity names in gallery order.
func (g *Gallery) Names() []string {
	names := make([]string, len(g.identities))
	for i, id := range g.identities {
		names[i] = id.Name
	}
	return names
}

// Skipped lists the reference files Load could not turn into an identity.
func (g *Gallery) Skipped() []string {
	return append([]string(nil), g.skipped...)
}

// Match compares e with every identity and returns the nearest one if it is within tolerance.
func (g *Gallery) Match(e types.Embedding, tolerance float64) types.FaceMatch {
	return Match(e, g, tolerance)
}

// Match returns the gallery entry with the smallest Euclidean distance to e.
// The identity is set only when that distance is <= tolerance; ties go to the entry
// that comes first in gallery order. An empty gallery never matches.
func Match(e types.Embedding, g *Gallery, tolerance float64) types.FaceMatch {
	best := types.FaceMatch{Distance: math.Inf(1)}
	if g == nil {
		return best
	}

	bestIdx := -1
	for i := range g.identities {
		d := Distance(e, g.identities[i].Embedding)
		if d < best.Distance {
			best.Distance = d
			bestIdx = i
		}
	}
	if bestIdx >= 0 && best.Distance <= tolerance {
		best.Identity = &g.identities[bestIdx]
	}
	return best
}

// Distance is the Euclidean distance between two embeddings.
// Empty embeddings and embeddings of different length are infinitely far apart.
func Distance(a, b types.Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
