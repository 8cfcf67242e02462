// Package task runs long operations one at a time on a background goroutine
// and streams their progress.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/pders01/subwatch/internal/debuglog"
)

var (
	ErrBusy   = errors.New("a task is already running")
	ErrClosed = errors.New("worker is closed")
)

const progressBuffer = 64

// Progress is one step of a running task. Fraction is in [0, 1].
type Progress struct {
	Fraction float64
	Message  string
}

// Result is the terminal state of a task.
type Result struct {
	Value    any
	Err      error
	Duration time.Duration
}

// Func is the body of a task. It reports progress on the given channel with
// Send and must not close it.
type Func func(ctx context.Context, progress chan<- Progress) (any, error)

// Handle observes one submitted task.
type Handle struct {
	ID   string
	Name string

	progress chan Progress
	done     chan struct{}
	result   Result
}

// Progress streams updates until the task ends, then closes.
func (h *Handle) Progress() <-chan Progress {
	return h.progress
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task ends and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Worker executes submitted tasks sequentially on a single goroutine. A
// running task cannot be cancelled.
type Worker struct {
	ctx  context.Context
	jobs chan job
	wg   conc.WaitGroup

	mu     sync.Mutex
	active *Handle
	closed bool
}

type job struct {
	handle *Handle
	fn     Func
}

func NewWorker(ctx context.Context) *Worker {
	w := &Worker{
		ctx:  ctx,
		jobs: make(chan job),
	}
	w.wg.Go(w.loop)
	return w
}

// Submit starts fn unless another task is still running.
func (w *Worker) Submit(name string, fn Func) (*Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	if w.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrBusy, w.active.Name)
	}

	h := &Handle{
		ID:       uuid.NewString(),
		Name:     name,
		progress: make(chan Progress, progressBuffer),
		done:     make(chan struct{}),
	}
	w.active = h
	w.jobs <- job{handle: h, fn: fn}
	return h, nil
}

// Busy reports whether a task is running.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active != nil
}

// Close stops the worker after the running task, if any, finishes.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Worker) loop() {
	for j := range w.jobs {
		w.run(j)
	}
}

func (w *Worker) run(j job) {
	h := j.handle
	log := debuglog.WithFields(map[string]interface{}{"task": h.Name, "id": h.ID})
	log.Debugf("task started")
	start := time.Now()

	var (
		value any
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() {
		value, err = j.fn(w.ctx, h.progress)
	})
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("task %s panicked: %w", h.Name, r.AsError())
	}

	h.result = Result{Value: value, Err: err, Duration: time.Since(start)}
	if err != nil {
		log.Errorf("task failed after %s: %v", h.result.Duration, err)
	} else {
		log.Debugf("task finished in %s", h.result.Duration)
	}

	w.mu.Lock()
	w.active = nil
	w.mu.Unlock()

	close(h.progress)
	close(h.done)
}

// Send delivers an update without blocking. Updates are dropped when the
// consumer falls behind; the terminal result is never lost.
func Send(progress chan<- Progress, fraction float64, message string) {
	if progress == nil {
		return
	}
	select {
	case progress <- Progress{Fraction: fraction, Message: message}:
	default:
	}
}
