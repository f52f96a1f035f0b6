package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type mockQueue struct {
	mu       sync.Mutex
	queued   map[Type][]Job
	requeued []Job
	released []string
	parked   []Job
	reasons  []string
}

func newMockQueue() *mockQueue {
	return &mockQueue{queued: make(map[Type][]Job)}
}

func (m *mockQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[job.Type] = append(m.queued[job.Type], job)
	return true, nil
}

func (m *mockQueue) Pop(ctx context.Context, t Type, timeout time.Duration) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queued[t]
	if len(q) == 0 {
		return nil, nil
	}
	job := q[0]
	m.queued[t] = q[1:]
	return &job, nil
}

func (m *mockQueue) Requeue(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, job)
	return nil
}

func (m *mockQueue) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, key)
	return nil
}

func (m *mockQueue) Park(ctx context.Context, job Job, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked = append(m.parked, job)
	m.reasons = append(m.reasons, reason)
	return nil
}

func TestWorker_SuccessReleasesKey(t *testing.T) {
	queue := newMockQueue()
	w := NewWorker(queue, 3, slog.Default())

	handled := 0
	w.Register(TypeRefreshLedger, func(ctx context.Context, job Job) error {
		handled++
		return nil
	})

	job, err := New(TypeRefreshLedger, "sweep", RefreshLedgerPayload{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.handle(context.Background(), job)

	if handled != 1 {
		t.Errorf("handler ran %d times, want 1", handled)
	}
	if len(queue.released) != 1 || queue.released[0] != "sweep" {
		t.Errorf("released keys = %v, want [sweep]", queue.released)
	}
	if len(queue.requeued) != 0 || len(queue.parked) != 0 {
		t.Error("successful job was requeued or parked")
	}
}

func TestWorker_FailureRequeuesKeepingKey(t *testing.T) {
	queue := newMockQueue()
	w := NewWorker(queue, 3, slog.Default())
	w.Register(TypeUpsertLedger, func(ctx context.Context, job Job) error {
		return errors.New("db unavailable")
	})

	job, err := New(TypeUpsertLedger, "upsert:deposits:b1:connected", struct{}{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.handle(context.Background(), job)

	if len(queue.requeued) != 1 {
		t.Fatalf("got %d requeues, want 1", len(queue.requeued))
	}
	if queue.requeued[0].Attempts != 1 {
		t.Errorf("requeued attempts = %d, want 1", queue.requeued[0].Attempts)
	}
	// The key stays held so duplicates keep collapsing while the retry is in
	// flight.
	if len(queue.released) != 0 {
		t.Errorf("dedup key released on retry: %v", queue.released)
	}
}

func TestWorker_ExhaustedJobIsParked(t *testing.T) {
	queue := newMockQueue()
	w := NewWorker(queue, 3, slog.Default())
	w.Register(TypeUpsertLedger, func(ctx context.Context, job Job) error {
		return errors.New("always fails")
	})

	job, err := New(TypeUpsertLedger, "upsert:deposits:b1:connected", struct{}{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	job.Attempts = 2 // one attempt left

	w.handle(context.Background(), job)

	if len(queue.parked) != 1 {
		t.Fatalf("got %d parked jobs, want 1", len(queue.parked))
	}
	if queue.reasons[0] != "always fails" {
		t.Errorf("park reason = %q", queue.reasons[0])
	}
	if len(queue.released) != 1 {
		t.Error("dedup key not released after parking")
	}
	if len(queue.requeued) != 0 {
		t.Error("exhausted job was requeued")
	}
}

func TestWorker_UnhandledTypeIsDropped(t *testing.T) {
	queue := newMockQueue()
	w := NewWorker(queue, 3, slog.Default())

	job, err := New(TypeRefreshUserPoints, "points:1:deposit", struct{}{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.handle(context.Background(), job)

	if len(queue.released) != 1 {
		t.Error("unhandled job kept its dedup key")
	}
	if len(queue.requeued) != 0 || len(queue.parked) != 0 {
		t.Error("unhandled job was requeued or parked")
	}
}

func TestWorker_StartStopsOnContextCancel(t *testing.T) {
	queue := newMockQueue()
	w := NewWorker(queue, 3, slog.Default())
	w.Register(TypeRefreshLedger, func(ctx context.Context, job Job) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}
