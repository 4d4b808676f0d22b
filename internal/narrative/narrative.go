// Package narrative fuses frame annotations and a transcript into one document.
package narrative

import (
	"fmt"

	"github.com/andresmejia3/memquiz/internal/types"
)

// Aggregate checks that annotations are strictly increasing by frame index and pairs them
// with the transcript. The annotations are copied; the transcript is kept as is.
func Aggregate(annotations []types.FrameAnnotation, transcript string) (types.Narrative, error) {
	for i := 1; i < len(annotations); i++ {
		prev, cur := annotations[i-1].FrameIndex, annotations[i].FrameIndex
		if cur <= prev {
			return types.Narrative{}, fmt.Errorf("%w: frame %d follows frame %d", types.ErrInvalidAnnotations, cur, prev)
		}
	}
	return types.Narrative{
		Annotations: append([]types.FrameAnnotation(nil), annotations...),
		Transcript:  transcript,
	}, nil
}
