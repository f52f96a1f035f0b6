package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/jobs"
)

type mockEnqueuer struct {
	jobs []jobs.Job
	seen map[string]bool
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, job jobs.Job) (bool, error) {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[job.Key] {
		return false, nil
	}
	m.seen[job.Key] = true
	m.jobs = append(m.jobs, job)
	return true, nil
}

func testOp(kind domain.OperationKind, ledger domain.LedgerKind, hash string) domain.BlockOperation {
	return domain.BlockOperation{
		Kind:   kind,
		Ledger: ledger,
		Block:  domain.BlockHeader{Hash: hash, Sequence: 1, Timestamp: time.Now()},
	}
}

func TestDispatcher_FiltersForks(t *testing.T) {
	queue := &mockEnqueuer{}
	d := NewDispatcher(queue, slog.Default())

	ops := []domain.BlockOperation{
		testOp(domain.OperationConnected, domain.LedgerDeposits, "b1"),
		testOp(domain.OperationFork, domain.LedgerDeposits, "b2"),
		testOp(domain.OperationDisconnected, domain.LedgerDeposits, "b1"),
	}
	enqueued, err := d.Dispatch(context.Background(), ops)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if enqueued != 2 {
		t.Errorf("enqueued = %d, want 2 (fork filtered)", enqueued)
	}
	for _, job := range queue.jobs {
		if job.Type != jobs.TypeUpsertLedger {
			t.Errorf("unexpected job type %q", job.Type)
		}
	}
}

func TestDispatcher_CollapsesDuplicates(t *testing.T) {
	queue := &mockEnqueuer{}
	d := NewDispatcher(queue, slog.Default())

	op := testOp(domain.OperationConnected, domain.LedgerDeposits, "b1")
	enqueued, err := d.Dispatch(context.Background(), []domain.BlockOperation{op, op})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if enqueued != 1 {
		t.Errorf("enqueued = %d, want 1 after dedup", enqueued)
	}
}

func TestDispatcher_RejectsInvalidOperations(t *testing.T) {
	queue := &mockEnqueuer{}
	d := NewDispatcher(queue, slog.Default())

	bad := testOp(domain.OperationConnected, "staking", "b1")
	if _, err := d.Dispatch(context.Background(), []domain.BlockOperation{bad}); err == nil {
		t.Fatal("invalid operation accepted")
	}
	if len(queue.jobs) != 0 {
		t.Error("invalid operation was enqueued")
	}
}

func TestOperationKey(t *testing.T) {
	connect := testOp(domain.OperationConnected, domain.LedgerDeposits, "b1")
	disconnect := testOp(domain.OperationDisconnected, domain.LedgerDeposits, "b1")

	if OperationKey(connect) == OperationKey(disconnect) {
		t.Error("connect and disconnect of the same block share a key")
	}
	if got, want := OperationKey(connect), "upsert:deposits:b1:connected"; got != want {
		t.Errorf("OperationKey = %q, want %q", got, want)
	}
}
