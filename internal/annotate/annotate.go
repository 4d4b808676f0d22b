// Package annotate describes single frames, naming the known person in them when there is one.
package annotate

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/memquiz/internal/gallery"
	"github.com/andresmejia3/memquiz/internal/types"
)

// Describer turns an image and a prompt into free text.
type Describer interface {
	Describe(ctx context.Context, jpeg []byte, prompt string) (string, error)
}

// Annotator runs face detection, matching and the vision call for one frame.
// It holds no per-frame state and is safe for concurrent use if its Detector and Describer are.
type Annotator struct {
	Detector  types.Detector
	Describer Describer
	Tolerance float64
	Timeout   time.Duration // per vision call, 0 disables
}

func New(det types.Detector, desc Describer) *Annotator {
	return &Annotator{
		Detector:  det,
		Describer: desc,
		Tolerance: gallery.DefaultTolerance,
		Timeout:   60 * time.Second,
	}
}

// Annotate produces the annotation for frame. A frame with no faces is still described.
func (a *Annotator) Annotate(ctx context.Context, frame types.Frame, g *gallery.Gallery) (types.FrameAnnotation, error) {
	ann := types.FrameAnnotation{FrameIndex: frame.Index}

	faces, err := a.Detector.Detect(ctx, frame.Data)
	if err != nil {
		return ann, fmt.Errorf("frame %d: %w: %w", frame.Index, types.ErrFaceDetection, err)
	}
	ann.Match = Dominant(faces, g, a.Tolerance)

	prompt := Prompt(ann.Match)

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.Timeout)
	}
	defer cancel()

	desc, err := a.Describer.Describe(callCtx, frame.Data, prompt)
	if err != nil {
		return ann, fmt.Errorf("frame %d: %w: %w", frame.Index, types.ErrDescriptionService, err)
	}
	ann.Description = desc
	return ann, nil
}

// Dominant picks the match that speaks for the whole frame: the first face within tolerance.
// When no face is identified the closest miss is kept (with no identity), and when there are
// no faces at all the result is nil.
func Dominant(faces []types.Embedding, g *gallery.Gallery, tolerance float64) *types.FaceMatch {
	var closest *types.FaceMatch
	for _, e := range faces {
		m := gallery.Match(e, g, tolerance)
		if m.Matched() {
			return &m
		}
		if closest == nil || m.Distance < closest.Distance {
			closest = &m
		}
	}
	return closest
}

// Prompt builds the vision request, naming the identified person if there is one.
func Prompt(m *types.FaceMatch) string {
	var hint string
	if m != nil && m.Matched() {
		hint = fmt.Sprintf("The person in this frame appears to be %s. ", m.Name())
	}
	return "Describe what's happening in this image. " + hint + "Focus on the actions, emotions, and setting."
}
