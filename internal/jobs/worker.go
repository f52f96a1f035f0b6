package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/rewarder/internal/metrics"
)

// Queue is the transport the worker pulls from. The redis client implements
// it in production; tests use an in-memory fake.
type Queue interface {
	// Enqueue queues a job. Returns false when an in-flight job with the same
	// key already exists.
	Enqueue(ctx context.Context, job Job) (bool, error)

	// Pop blocks up to timeout for the next job of the given type. Returns
	// nil when the queue stayed empty.
	Pop(ctx context.Context, t Type, timeout time.Duration) (*Job, error)

	// Requeue puts a failed job back without touching its dedup key.
	Requeue(ctx context.Context, job Job) error

	// Release clears the dedup key once a unit of work is finished.
	Release(ctx context.Context, key string) error

	// Park moves a job to the dead list after its attempts are exhausted.
	Park(ctx context.Context, job Job, reason string) error
}

// Handler processes one job. Returning an error hands the retry decision back
// to the transport; handlers perform no internal retry loops.
type Handler func(ctx context.Context, job Job) error

// Worker consumes the job queue. One goroutine per job type keeps per-queue
// FIFO ordering, which the ledger engine relies on for same-ledger operations.
type Worker struct {
	queue       Queue
	handlers    map[Type]Handler
	maxAttempts int
	popTimeout  time.Duration
	log         *slog.Logger

	wg sync.WaitGroup
}

// NewWorker creates a worker with no handlers registered.
func NewWorker(queue Queue, maxAttempts int, log *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{
		queue:       queue,
		handlers:    make(map[Type]Handler),
		maxAttempts: maxAttempts,
		popTimeout:  5 * time.Second,
		log:         log,
	}
}

// Register installs the handler for a job type.
func (w *Worker) Register(t Type, h Handler) {
	w.handlers[t] = h
}

// Start launches one consumer goroutine per registered type.
func (w *Worker) Start(ctx context.Context) {
	for t := range w.handlers {
		w.wg.Add(1)
		go func(t Type) {
			defer w.wg.Done()
			w.consume(ctx, t)
		}(t)
	}
}

// Wait blocks until all consumers have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context, t Type) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Pop(ctx, t, w.popTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.log.Error("failed to pop job", "type", t, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, *job)
	}
}

func (w *Worker) handle(ctx context.Context, job Job) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		w.log.Error("no handler for job type", "type", job.Type, "id", job.ID)
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "unhandled").Inc()
		w.release(ctx, job)
		return
	}

	if err := handler(ctx, job); err != nil {
		job.Attempts++
		if job.Attempts >= w.maxAttempts {
			w.log.Error("job exhausted attempts, parking",
				"type", job.Type, "id", job.ID, "attempts", job.Attempts, "error", err)
			metrics.JobsProcessed.WithLabelValues(string(job.Type), "dead").Inc()
			if perr := w.queue.Park(ctx, job, err.Error()); perr != nil {
				w.log.Error("failed to park job", "id", job.ID, "error", perr)
			}
			w.release(ctx, job)
			return
		}

		w.log.Warn("job failed, requeueing",
			"type", job.Type, "id", job.ID, "attempt", job.Attempts, "error", err)
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "retry").Inc()
		if rerr := w.queue.Requeue(ctx, job); rerr != nil {
			w.log.Error("failed to requeue job", "id", job.ID, "error", rerr)
		}
		return
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Type), "ok").Inc()
	w.release(ctx, job)
}

func (w *Worker) release(ctx context.Context, job Job) {
	if job.Key == "" {
		return
	}
	if err := w.queue.Release(ctx, job.Key); err != nil {
		w.log.Error("failed to release job key", "key", job.Key, "error", err)
	}
}
