package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/jobs"
	"github.com/vietddude/rewarder/internal/metrics"
)

// Enqueuer is the slice of the job transport the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) (bool, error)
}

// Dispatcher receives batches of block operations from the watcher edge and
// fans each out as an individually keyed unit of work. FORK operations never
// reach the engine through here.
type Dispatcher struct {
	queue Enqueuer
	log   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(queue Enqueuer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, log: log}
}

// Dispatch filters the batch to CONNECTED/DISCONNECTED and enqueues one job
// per surviving operation, keyed by (ledger, block hash, kind) so the same
// operation delivered twice collapses to one queued unit. Returns how many
// operations were enqueued.
func (d *Dispatcher) Dispatch(ctx context.Context, ops []domain.BlockOperation) (int, error) {
	enqueued := 0
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return enqueued, err
		}
		if op.Kind == domain.OperationFork {
			d.log.Debug("skipping fork operation", "ledger", op.Ledger, "block", op.Block.Hash)
			continue
		}

		key := OperationKey(op)
		job, err := jobs.New(jobs.TypeUpsertLedger, key, jobs.UpsertLedgerPayload{Operation: op})
		if err != nil {
			return enqueued, fmt.Errorf("failed to build upsert job: %w", err)
		}

		added, err := d.queue.Enqueue(ctx, job)
		if err != nil {
			return enqueued, fmt.Errorf("failed to enqueue block %s: %w", op.Block.Hash, err)
		}
		if !added {
			metrics.JobsDeduplicated.WithLabelValues(string(jobs.TypeUpsertLedger)).Inc()
			d.log.Debug("duplicate operation collapsed", "key", key)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// OperationKey is the stable dedup key for one block operation.
func OperationKey(op domain.BlockOperation) string {
	return fmt.Sprintf("upsert:%s:%s:%s", op.Ledger, op.Block.Hash, op.Kind)
}
