// Package pipeline runs one video through sampling, annotation, transcription,
// aggregation and synthesis, producing at most one QnARecord.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/memquiz/internal/gallery"
	"github.com/andresmejia3/memquiz/internal/narrative"
	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils"
	"github.com/andresmejia3/memquiz/internal/video"
)

// FrameSource is a restartable frame sequence.
type FrameSource interface {
	Frames(ctx context.Context) iter.Seq2[types.Frame, error]
}

type FrameAnnotator interface {
	Annotate(ctx context.Context, frame types.Frame, g *gallery.Gallery) (types.FrameAnnotation, error)
}

type TranscriptExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

type QuestionSynthesizer interface {
	Synthesize(ctx context.Context, n types.Narrative, known []string) (types.QnARecord, error)
}

// Services are the collaborators a run depends on. All of them are supplied by the caller.
type Services struct {
	Sampler     func(path string, rate float64) FrameSource
	Annotator   FrameAnnotator
	Transcripts TranscriptExtractor
	Synthesizer QuestionSynthesizer
}

// Policy decides which failures a run tolerates. The zero value aborts on every failure.
type Policy struct {
	// SkipFailedFrames drops frames whose detection or description failed instead of aborting.
	SkipFailedFrames bool
	// AllowPartialDecode keeps the frames decoded before a decoder failure.
	AllowPartialDecode bool
	// AllowMissingTranscript continues with an empty transcript when transcription fails.
	AllowMissingTranscript bool
}

type Config struct {
	Workers    int     // concurrent frame annotations
	Rate       float64 // sampled frames per second
	Retries    int     // extra attempts for a failed service call
	RetryDelay time.Duration
	Policy     Policy
}

const (
	DefaultWorkers    = 4
	DefaultRetries    = 2
	DefaultRetryDelay = 2 * time.Second
)

// FrameDone reports the outcome of one frame. Observers see frames in index order.
type FrameDone struct {
	Index      int
	Annotation types.FrameAnnotation
	Err        error
}

type Pipeline struct {
	Gallery  *gallery.Gallery
	Services Services
	Config   Config

	// Observer, if set, is called from the goroutine running Run.
	Observer func(FrameDone)
	// VideoID keys the record to its source file.
	VideoID func(path string) (string, error)
}

func New(g *gallery.Gallery, svc Services, cfg Config) *Pipeline {
	if g == nil {
		g, _ = gallery.New()
	}
	if svc.Sampler == nil {
		svc.Sampler = func(path string, rate float64) FrameSource {
			return video.NewSampler(path, rate)
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Rate <= 0 {
		cfg.Rate = video.DefaultRate
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Pipeline{
		Gallery:  g,
		Services: svc,
		Config:   cfg,
		VideoID:  utils.GenerateVideoID,
	}
}

type transcriptResult struct {
	text string
	err  error
}

// Run processes the video at path. It returns a record only when every step succeeded
// under the configured Policy; otherwise the first failure is returned and nothing is produced.
// If ctx is cancelled, no new frames are dispatched, frames already handed to a worker finish,
// and ctx.Err() is returned.
func (p *Pipeline) Run(ctx context.Context, path string) (types.QnARecord, error) {
	videoID, err := p.VideoID(path)
	if err != nil {
		return types.QnARecord{}, fmt.Errorf("cannot read video %s: %w", path, err)
	}
	proof, err := filepath.Abs(path)
	if err != nil {
		proof = path
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	annCtx, stopAnnotating := context.WithCancel(runCtx)
	defer stopAnnotating()

	// Transcription shares nothing with annotation and runs alongside it.
	// A transcript failure the policy cannot absorb ends the run early.
	transcriptCh := make(chan transcriptResult, 1)
	go func() {
		var res transcriptResult
		res.err = p.retry(runCtx, func() error {
			var err error
			res.text, err = p.Services.Transcripts.Extract(runCtx, path)
			return err
		})
		transcriptCh <- res
		if res.err != nil && !p.transcriptOptional(res.err) {
			stopAnnotating()
		}
	}()

	annotations, annErr := p.annotate(annCtx, path)
	if annErr != nil {
		cancel()
	}
	tr := <-transcriptCh
	if err := ctx.Err(); err != nil {
		return types.QnARecord{}, err
	}

	transcriptFailed := tr.err != nil && !p.transcriptOptional(tr.err)
	if annErr != nil && !(transcriptFailed && errors.Is(annErr, context.Canceled)) {
		return types.QnARecord{}, annErr
	}
	if transcriptFailed {
		return types.QnARecord{}, tr.err
	}
	if tr.err != nil {
		tr.text = ""
	}

	if len(annotations) == 0 && strings.TrimSpace(tr.text) == "" {
		return types.QnARecord{}, types.ErrEmptyNarrative
	}
	n, err := narrative.Aggregate(annotations, tr.text)
	if err != nil {
		return types.QnARecord{}, err
	}

	known := p.Gallery.Names()
	var rec types.QnARecord
	err = p.retry(runCtx, func() error {
		var err error
		rec, err = p.Services.Synthesizer.Synthesize(runCtx, n, known)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.QnARecord{}, ctxErr
		}
		return types.QnARecord{}, err
	}

	rec.VideoID = videoID
	rec.ProofLocation = proof
	return rec, nil
}

// task is a frame tagged with its position in decode order.
type task struct {
	seq   int
	frame types.Frame
}

type frameResult struct {
	seq   int
	index int
	ann   types.FrameAnnotation
	err   error
}

// annotate fans frames out to a bounded pool of workers and gathers the annotations back
// in frame order.
func (p *Pipeline) annotate(ctx context.Context, path string) ([]types.FrameAnnotation, error) {
	workers := p.Config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	tasks := make(chan task, workers)
	results := make(chan frameResult, workers*2)
	var decodeErr error

	// Feeder
	go func() {
		defer close(tasks)
		source := p.Services.Sampler(path, p.Config.Rate)
		seq := 0
		for frame, err := range source.Frames(dispatchCtx) {
			if err != nil {
				decodeErr = err
				return
			}
			select {
			case tasks <- task{seq: seq, frame: frame}:
				seq++
			case <-dispatchCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				// Queued but not started: drop it, the run is already failing or cancelled.
				if dispatchCtx.Err() != nil {
					continue
				}
				ann, err := p.annotateFrame(dispatchCtx, t.frame)
				results <- frameResult{seq: t.seq, index: t.frame.Index, ann: ann, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Buffer for re-ordering frames (worker 2 might finish before worker 1).
	// Keyed by decode order, frame indexes may have gaps.
	buffer := make(map[int]frameResult)
	next := 0
	var annotations []types.FrameAnnotation
	var failed *frameResult

	for res := range results {
		if res.err != nil && !p.skippable(res.err) {
			if failed == nil || res.seq < failed.seq {
				failed = &res
			}
			stopDispatch()
		}
		buffer[res.seq] = res

		// Process frames in strict order
		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			next++

			if p.Observer != nil {
				p.Observer(FrameDone{Index: r.index, Annotation: r.ann, Err: r.err})
			}
			if r.err == nil {
				annotations = append(annotations, r.ann)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed.err
	}
	if len(buffer) > 0 {
		return nil, fmt.Errorf("%d frame results arrived out of sequence", len(buffer))
	}
	if decodeErr != nil {
		if !p.Config.Policy.AllowPartialDecode || !errors.Is(decodeErr, types.ErrDecode) {
			return nil, decodeErr
		}
	}
	return annotations, nil
}

// annotateFrame describes one frame. Once a frame is dispatched its service calls run to
// completion even if the run is cancelled; only further retries are abandoned.
func (p *Pipeline) annotateFrame(stop context.Context, frame types.Frame) (types.FrameAnnotation, error) {
	call := context.WithoutCancel(stop)
	var ann types.FrameAnnotation
	err := p.retry(stop, func() error {
		var err error
		ann, err = p.Services.Annotator.Annotate(call, frame, p.Gallery)
		return err
	})
	return ann, err
}

func (p *Pipeline) transcriptOptional(err error) bool {
	return p.Config.Policy.AllowMissingTranscript && errors.Is(err, types.ErrTranscription)
}

func (p *Pipeline) skippable(err error) bool {
	if !p.Config.Policy.SkipFailedFrames {
		return false
	}
	return errors.Is(err, types.ErrDescriptionService) || errors.Is(err, types.ErrFaceDetection)
}

// retry runs op until it succeeds, fails with a non-retryable error, or runs out of attempts.
// The delay grows linearly with each attempt.
func (p *Pipeline) retry(ctx context.Context, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !types.Retryable(err) || attempt >= p.Config.Retries {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt+1) * p.Config.RetryDelay):
		}
	}
}
