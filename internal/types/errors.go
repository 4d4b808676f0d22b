package types

import (
	"errors"
	"fmt"
)

var (
	// ErrGalleryLoad means the reference image directory could not be read.
	ErrGalleryLoad = errors.New("gallery load failed")
	// ErrDecode means the video could not be decoded to the end.
	ErrDecode = errors.New("video decode failed")
	// ErrFaceDetection means the face engine failed on a frame.
	ErrFaceDetection = errors.New("face detection failed")
	// ErrDescriptionService means the vision service failed to describe a frame.
	ErrDescriptionService = errors.New("description service failed")
	// ErrTranscription means the audio track could not be transcribed.
	ErrTranscription = errors.New("transcription failed")
	// ErrSynthesisService means the question-generation call itself failed.
	ErrSynthesisService = errors.New("question synthesis service failed")
	// ErrSynthesisParse means the generated question could not be accepted.
	ErrSynthesisParse = errors.New("question synthesis result rejected")
	// ErrInvalidAnnotations means frame annotations were out of order or duplicated.
	ErrInvalidAnnotations = errors.New("frame annotations not strictly ordered")
	// ErrEmptyNarrative means there was nothing to build a question from.
	ErrEmptyNarrative = errors.New("narrative is empty")
)

// DecodeError reports a decoder that stopped early. Frames is the number of
// frames that were delivered before the failure.
type DecodeError struct {
	Frames int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("video decode failed after %d frames: %v", e.Frames, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Retryable reports whether err is a remote service failure worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrDescriptionService) ||
		errors.Is(err, ErrTranscription) ||
		errors.Is(err, ErrSynthesisService)
}
