// Package queue provides the ordered ingestion queue: a single global FIFO
// drained by one background worker goroutine. Every document mutation in the
// process funnels through this worker, which is what linearizes synthesis per
// project (indeed, globally) without any per-project locking.
package queue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Retention bound for stored processing results.
	maxResults = 100
	// Intake channel capacity; enqueue fails rather than blocks beyond it.
	queueCapacity = 1024
)

// Item is one queued fragment. Items are consumed exactly once and never
// mutated after creation.
type Item struct {
	RequestID  string
	Text       string
	Project    string
	EnqueuedAt time.Time
	Chunk      int

	// Caller-supplied continuity context; empty means the worker derives it
	// from the project's rolling buffer.
	PrevContext string
}

// Result is the caller-visible processing status for a request id.
type Result struct {
	Status      string    `json:"status"`
	Project     string    `json:"project"`
	Chunk       int       `json:"chunk_num,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Result      any       `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Statuses a result moves through.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ProcessFunc applies one fragment to its project's document and returns the
// structured pipeline result.
type ProcessFunc func(ctx context.Context, item Item) (any, error)

// job is one unit of work for the worker goroutine: either a queued fragment
// or an ad-hoc exclusive function (pending resolution, project clear) that
// must not run concurrently with fragment synthesis.
type job struct {
	item *Item
	run  func(ctx context.Context)
	done chan struct{}
}

// Worker owns the FIFO channel, the background goroutine and the result
// table.
type Worker struct {
	process ProcessFunc
	results ResultStore
	jobs    chan job
	stop    chan struct{}
	stopped chan struct{}
}

// NewWorker creates a worker; Start must be called before Enqueue is useful.
// A nil results store gets the in-memory table.
func NewWorker(process ProcessFunc, results ResultStore) *Worker {
	if results == nil {
		results = NewMemoryResults()
	}
	return &Worker{
		process: process,
		results: results,
		jobs:    make(chan job, queueCapacity),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the background worker goroutine.
func (w *Worker) Start() {
	go w.run()
	log.Printf("queue: worker started")
}

// Stop signals the worker to stop picking up jobs and joins it, bounded by
// the context deadline. An in-flight job is not cancelled mid-synthesis.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue worker did not stop: %w", ctx.Err())
	}
}

// Enqueue pushes a fragment and returns its request id without waiting for
// processing.
func (w *Worker) Enqueue(ctx context.Context, text, project string, chunk int, prevContext string) (string, error) {
	id, _, err := w.enqueue(ctx, text, project, chunk, prevContext, false)
	return id, err
}

// EnqueueWait pushes a fragment and returns a channel that closes once its
// result is stored, so a synchronous caller can wait for its own item while
// the single worker still serializes all processing.
func (w *Worker) EnqueueWait(ctx context.Context, text, project string, chunk int, prevContext string) (string, <-chan struct{}, error) {
	return w.enqueue(ctx, text, project, chunk, prevContext, true)
}

func (w *Worker) enqueue(ctx context.Context, text, project string, chunk int, prevContext string, wait bool) (string, <-chan struct{}, error) {
	requestID := shortID()
	item := Item{
		RequestID:   requestID,
		Text:        text,
		Project:     project,
		EnqueuedAt:  time.Now(),
		Chunk:       chunk,
		PrevContext: prevContext,
	}
	j := job{item: &item}
	if wait {
		j.done = make(chan struct{})
	}

	if err := w.results.Put(ctx, requestID, Result{
		Status:   StatusQueued,
		Project:  project,
		Chunk:    chunk,
		QueuedAt: item.EnqueuedAt,
	}); err != nil {
		return "", nil, fmt.Errorf("record queued status: %w", err)
	}

	select {
	case w.jobs <- j:
	default:
		// No item made it onto the queue, so the queued row must not
		// outlive this call.
		if err := w.results.Delete(ctx, requestID); err != nil {
			log.Printf("queue: delete result %s: %v", requestID, err)
		}
		return "", nil, fmt.Errorf("ingestion queue full")
	}

	log.Printf("queue: enqueued %s project=%s chunk=%d preview=%q", requestID, project, chunk, preview(text))
	return requestID, j.done, nil
}

// RunExclusive executes fn on the worker goroutine, serialized against all
// queued fragments, and waits for it to finish (bounded by ctx). Document
// mutations outside the transcript pipeline go through here so the
// one-writer guarantee holds everywhere.
func (w *Worker) RunExclusive(ctx context.Context, fn func(context.Context)) error {
	j := job{run: fn, done: make(chan struct{})}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return fmt.Errorf("submit exclusive job: %w", ctx.Err())
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("exclusive job did not finish: %w", ctx.Err())
	}
}

// Status returns the stored result for a request id.
func (w *Worker) Status(ctx context.Context, requestID string) (Result, bool) {
	res, ok, err := w.results.Get(ctx, requestID)
	if err != nil {
		log.Printf("queue: load result %s: %v", requestID, err)
		return Result{}, false
	}
	return res, ok
}

func (w *Worker) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stop:
			log.Printf("queue: worker stopped")
			return
		case j := <-w.jobs:
			w.handle(j)
		}
	}
}

// handle runs one job. A failure, including a panic, is recorded against the
// item's result (if any) and never stops the loop.
func (w *Worker) handle(j job) {
	ctx := context.Background()
	if j.done != nil {
		defer close(j.done)
	}

	if j.item == nil {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("queue: panic in exclusive job: %v", r)
			}
		}()
		j.run(ctx)
		return
	}

	item := *j.item
	w.mutateResult(ctx, item.RequestID, func(r *Result) {
		r.Status = StatusProcessing
		r.StartedAt = time.Now()
	})

	result, err := w.safeProcess(ctx, item)
	if err != nil {
		log.Printf("queue: process %s: %v", item.RequestID, err)
		w.mutateResult(ctx, item.RequestID, func(r *Result) {
			r.Status = StatusError
			r.Error = err.Error()
			r.CompletedAt = time.Now()
		})
	} else {
		w.mutateResult(ctx, item.RequestID, func(r *Result) {
			r.Status = StatusCompleted
			r.Result = result
			r.CompletedAt = time.Now()
		})
	}

	if err := w.results.Trim(ctx, maxResults); err != nil {
		log.Printf("queue: trim results: %v", err)
	}
}

func (w *Worker) safeProcess(ctx context.Context, item Item) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()
	return w.process(ctx, item)
}

func (w *Worker) mutateResult(ctx context.Context, requestID string, mutate func(*Result)) {
	res, ok, err := w.results.Get(ctx, requestID)
	if err != nil || !ok {
		if err != nil {
			log.Printf("queue: load result %s: %v", requestID, err)
		}
		return
	}
	mutate(&res)
	if err := w.results.Put(ctx, requestID, res); err != nil {
		log.Printf("queue: store result %s: %v", requestID, err)
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func preview(text string) string {
	if len(text) > 50 {
		return text[:50]
	}
	return text
}
