// Package face wraps the face engines that turn an image into face embeddings.
package face

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/memquiz/internal/types"

	goface "github.com/Kagami/go-face"
)

var _ types.Detector = (*DlibDetector)(nil)

// DlibDetector runs the dlib ResNet face model in-process. The model directory
// must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
type DlibDetector struct {
	mu  sync.Mutex // the recognizer is not safe for concurrent use
	rec *goface.Recognizer
}

// NewDlibDetector loads the dlib models from modelDir.
func NewDlibDetector(modelDir string) (*DlibDetector, error) {
	rec, err := goface.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load face models from %s: %w", modelDir, err)
	}
	return &DlibDetector{rec: rec}, nil
}

// Detect implements Detector.
func (d *DlibDetector) Detect(ctx context.Context, img []byte) ([]types.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	faces, err := d.rec.Recognize(img)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]types.Embedding, len(faces))
	for i, f := range faces {
		out[i] = FromDescriptor(f.Descriptor)
	}
	return out, nil
}

// Close releases the dlib models.
func (d *DlibDetector) Close() {
	d.rec.Close()
}

// FromDescriptor widens a dlib descriptor to an Embedding.
func FromDescriptor(desc goface.Descriptor) types.Embedding {
	e := make(types.Embedding, len(desc))
	for i, v := range desc {
		e[i] = float64(v)
	}
	return e
}
