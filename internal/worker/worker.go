package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/andresmejia3/memquiz/internal/utils" // Using the SafeCommand wrapper
)

// EmbeddingDim is the descriptor length produced by the face_recognition engine.
const EmbeddingDim = 128

const (
	statusOK    = 0
	statusError = 1
)

// Config controls how a Python face engine is launched.
type Config struct {
	Python      string        // interpreter, default "python3"
	Script      string        // engine script, default "python/face_worker.py"
	ReadTimeout time.Duration // max wait for one response, 0 = no limit
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Script == "" {
		c.Script = "python/face_worker.py"
	}
	return c
}

// PythonWorker drives one face_recognition process over a length-prefixed protocol.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	// broken is set once the request/response stream can no longer be trusted.
	broken error
}

// NewPythonWorker starts the engine process. Results come back on a side-channel pipe (FD 3)
// so that library noise on stdout can never corrupt the protocol.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	cfg = cfg.withDefaults()
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Detect sends one JPEG frame and returns the embeddings of every face found in it.
func (w *PythonWorker) Detect(ctx context.Context, img []byte) ([]types.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.broken != nil {
		return nil, fmt.Errorf("worker %d is out of sync: %w", w.ID, w.broken)
	}
	w.armDeadline(ctx)

	resp, err := w.communicate(img)
	if err != nil {
		w.markBroken(err)
		return nil, err
	}
	return parseResponse(resp)
}

// Broken reports whether a transport failure left the worker unusable.
func (w *PythonWorker) Broken() bool {
	return w.broken != nil
}

// markBroken retires the worker after a failed exchange. A late reply to the
// abandoned request may still arrive on the pipe, so the process is killed.
func (w *PythonWorker) markBroken(err error) {
	w.broken = err
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

// armDeadline bounds the next read by the context deadline or ReadTimeout, whichever comes first.
func (w *PythonWorker) armDeadline(ctx context.Context) {
	d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error })
	if !ok {
		return
	}
	var deadline time.Time
	if w.ReadTimeout > 0 {
		deadline = time.Now().Add(w.ReadTimeout)
	}
	if cd, ok := ctx.Deadline(); ok && (deadline.IsZero() || cd.Before(deadline)) {
		deadline = cd
	}
	_ = d.SetReadDeadline(deadline)
}

func (w *PythonWorker) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an engine that died on import
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// parseResponse decodes [Status] then either
// [NumFaces] ([Box 4×int32] [Vec 128×float32])* or [MsgLen] [Msg].
func parseResponse(resp []byte) ([]types.Embedding, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}

	faces := make([]types.Embedding, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var box [4]int32
		var vec [EmbeddingDim]float32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: truncated box: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
			return nil, fmt.Errorf("face %d: truncated embedding: %w", i, err)
		}
		e := make(types.Embedding, EmbeddingDim)
		for j, v := range vec {
			e[j] = float64(v)
		}
		faces = append(faces, e)
	}
	return faces, nil
}

// Close shuts the engine down and waits for the process to exit.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

var (
	_ types.Detector = (*PythonWorker)(nil)
	_ types.Detector = (*Pool)(nil)
)

// Pool hands out a fixed set of engine processes, one request per process at a time.
// A worker that breaks is replaced by a fresh process before it goes back to the pool.
type Pool struct {
	idle  chan *PythonWorker
	spawn func(id int) (*PythonWorker, error)

	mu  sync.Mutex
	all []*PythonWorker
}

// NewPool starts size engine processes.
func NewPool(ctx context.Context, size int, cfg Config) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	spawn := func(id int) (*PythonWorker, error) {
		return NewPythonWorker(ctx, id, cfg)
	}
	workers := make([]*PythonWorker, 0, size)
	for i := 0; i < size; i++ {
		w, err := spawn(i)
		if err != nil {
			for _, started := range workers {
				started.Close()
			}
			return nil, err
		}
		workers = append(workers, w)
	}
	return newPool(workers, spawn), nil
}

func newPool(workers []*PythonWorker, spawn func(id int) (*PythonWorker, error)) *Pool {
	p := &Pool{idle: make(chan *PythonWorker, len(workers)), all: workers, spawn: spawn}
	for _, w := range workers {
		p.idle <- w
	}
	return p
}

// Detect borrows an idle engine for one frame.
func (p *Pool) Detect(ctx context.Context, img []byte) ([]types.Embedding, error) {
	var w *PythonWorker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.idle <- p.recycle(w) }()
	return w.Detect(ctx, img)
}

// recycle swaps a broken worker for a new process. If the restart fails the broken
// worker is kept; it refuses every request instead of reading a stale reply.
func (p *Pool) recycle(w *PythonWorker) *PythonWorker {
	if !w.Broken() || p.spawn == nil {
		return w
	}
	w.Close()
	fresh, err := p.spawn(w.ID)
	if err != nil {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.all {
		if p.all[i] == w {
			p.all[i] = fresh
		}
	}
	return fresh
}

// Close stops every engine. It must not race with Detect.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.all {
		w.Close()
	}
}

// Logs returns the captured stderr of every engine, for crash reports.
func (p *Pool) Logs() []*utils.SafeCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmds := make([]*utils.SafeCommand, 0, len(p.all))
	for _, w := range p.all {
		if w.Cmd != nil {
			cmds = append(cmds, w.Cmd)
		}
	}
	return cmds
}
