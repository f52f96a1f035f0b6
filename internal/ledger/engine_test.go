package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage/memory"
)

type mockScheduler struct {
	calls []struct {
		UserID int64
		Type   domain.EventType
	}
	err error
}

func (m *mockScheduler) Schedule(ctx context.Context, userID int64, t domain.EventType) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, struct {
		UserID int64
		Type   domain.EventType
	}{userID, t})
	return nil
}

func newTestEngine(store *memory.Store) (*Engine, *mockScheduler) {
	sched := &mockScheduler{}
	engine := NewEngine(store, store, store, sched, Config{
		NetworkVersion:     1,
		TransactionTimeout: time.Minute,
	}, slog.Default())
	return engine, sched
}

func depositOp(kind domain.OperationKind, hash, prev string, seq int64, txHash, graffiti string, amount int64) domain.BlockOperation {
	return domain.BlockOperation{
		Kind:   kind,
		Ledger: domain.LedgerDeposits,
		Block: domain.BlockHeader{
			Hash:         hash,
			PreviousHash: prev,
			Sequence:     seq,
			Timestamp:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Transactions: []domain.OperationTransaction{
			{Hash: txHash, Notes: []domain.Note{{Identity: graffiti, Amount: amount}}},
		},
	}
}

func TestEngine_ConnectCreatesRowAndEvent(t *testing.T) {
	store := memory.NewStore()
	user := store.AddUser("alice")
	engine, sched := newTestEngine(store)
	ctx := context.Background()

	rows, err := engine.Upsert(ctx, depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 32_000_000))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if !row.Main || row.BlockHash != "b1" || row.Amount != 32_000_000 {
		t.Errorf("unexpected row: %+v", row)
	}

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Points != 3 {
		t.Errorf("0.32 IRON deposit earned %d points, want 3", events[0].Points)
	}
	if events[0].UserID != user.ID || events[0].Type != domain.EventDeposit {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].LedgerRowID != row.ID {
		t.Errorf("event bound to row %d, want %d", events[0].LedgerRowID, row.ID)
	}

	head, err := store.GetHead(ctx, domain.LedgerDeposits)
	if err != nil {
		t.Fatalf("GetHead failed: %v", err)
	}
	if head.BlockHash != "b1" {
		t.Errorf("head = %q, want b1", head.BlockHash)
	}

	if len(sched.calls) != 1 {
		t.Fatalf("got %d scheduled refreshes, want 1", len(sched.calls))
	}
	if sched.calls[0].UserID != user.ID || sched.calls[0].Type != domain.EventDeposit {
		t.Errorf("unexpected refresh: %+v", sched.calls[0])
	}
}

func TestEngine_UpsertIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	op := depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 32_000_000)
	if _, err := engine.Upsert(ctx, op); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if _, err := engine.Upsert(ctx, op); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows after replay, want 1", len(rows))
	}
	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events after replay, want 1", len(events))
	}
	if events[0].Points != 3 {
		t.Errorf("points drifted on replay: %d", events[0].Points)
	}
}

func TestEngine_DisconnectRetractsRewards(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	if _, err := engine.Upsert(ctx, depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 32_000_000)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := engine.Upsert(ctx, depositOp(domain.OperationDisconnected, "b1", "b0", 10, "tx1", "alice", 32_000_000)); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (rows survive disconnects)", len(rows))
	}
	if rows[0].Main {
		t.Error("row still main after disconnect")
	}
	if events := store.Events(); len(events) != 0 {
		t.Errorf("got %d events after disconnect, want 0", len(events))
	}

	head, err := store.GetHead(ctx, domain.LedgerDeposits)
	if err != nil {
		t.Fatalf("GetHead failed: %v", err)
	}
	if head.BlockHash != "b0" {
		t.Errorf("head = %q after disconnect, want b0", head.BlockHash)
	}
}

func TestEngine_ReorgReassignsInsteadOfDuplicating(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	// The same transaction lands on b1, gets rolled back, then lands on b2.
	if _, err := engine.Upsert(ctx, depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 32_000_000)); err != nil {
		t.Fatalf("connect b1 failed: %v", err)
	}
	if _, err := engine.Upsert(ctx, depositOp(domain.OperationDisconnected, "b1", "b0", 10, "tx1", "alice", 32_000_000)); err != nil {
		t.Fatalf("disconnect b1 failed: %v", err)
	}
	if _, err := engine.Upsert(ctx, depositOp(domain.OperationConnected, "b2", "b0", 10, "tx1", "alice", 45_000_000)); err != nil {
		t.Fatalf("connect b2 failed: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows after reorg, want 1", len(rows))
	}
	row := rows[0]
	if row.BlockHash != "b2" || !row.Main {
		t.Errorf("row not reassigned to winning block: %+v", row)
	}
	if row.Amount != 45_000_000 {
		t.Errorf("row amount = %d, want refreshed 45_000_000", row.Amount)
	}

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events after reorg, want 1", len(events))
	}
	if events[0].Points != 4 {
		t.Errorf("reorged deposit earned %d points, want 4", events[0].Points)
	}
}

func TestEngine_ForkFailsWithoutMutation(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	engine, sched := newTestEngine(store)

	_, err := engine.Upsert(context.Background(), depositOp(domain.OperationFork, "b1", "b0", 10, "tx1", "alice", 32_000_000))
	if !errors.Is(err, ErrForkOperation) {
		t.Fatalf("got %v, want ErrForkOperation", err)
	}

	if len(store.Rows()) != 0 || len(store.Events()) != 0 {
		t.Error("fork operation mutated the store")
	}
	if len(sched.calls) != 0 {
		t.Error("fork operation scheduled refreshes")
	}
}

func TestEngine_UnknownGraffitiDropped(t *testing.T) {
	store := memory.NewStore()
	engine, _ := newTestEngine(store)

	rows, err := engine.Upsert(context.Background(),
		depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "nobody", 32_000_000))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows for unknown graffiti, want 0", len(rows))
	}
	if len(store.Events()) != 0 {
		t.Error("unknown graffiti produced events")
	}

	// The head still advances; the block itself was processed.
	head, err := store.GetHead(context.Background(), domain.LedgerDeposits)
	if err != nil {
		t.Fatalf("GetHead failed: %v", err)
	}
	if head.BlockHash != "b1" {
		t.Errorf("head = %q, want b1", head.BlockHash)
	}
}

func TestEngine_SubMinimumDepositKeepsRowWithoutEvent(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	engine, _ := newTestEngine(store)

	rows, err := engine.Upsert(context.Background(),
		depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 5_000_000))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if len(store.Events()) != 0 {
		t.Error("sub-minimum deposit produced an event")
	}
}

func TestEngine_MaspOwnershipGatesEvents(t *testing.T) {
	store := memory.NewStore()
	owner := store.AddUser("owner")
	store.AddAsset("owned-asset", &owner.ID)
	store.AddAsset("orphan-asset", nil)
	engine, _ := newTestEngine(store)

	op := domain.BlockOperation{
		Kind:   domain.OperationConnected,
		Ledger: domain.LedgerMaspTransactions,
		Block: domain.BlockHeader{
			Hash: "m1", PreviousHash: "m0", Sequence: 20,
			Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Transactions: []domain.OperationTransaction{
			{Hash: "tx1", Notes: []domain.Note{{Identity: "owned-asset", Amount: 100, Kind: domain.MaspTransfer}}},
			{Hash: "tx2", Notes: []domain.Note{{Identity: "orphan-asset", Amount: 100, Kind: domain.MaspTransfer}}},
			{Hash: "tx3", Notes: []domain.Note{{Identity: "owned-asset", Amount: 100, Kind: domain.MaspMint}}},
		},
	}
	rows, err := engine.Upsert(context.Background(), op)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	// MASP rows persist regardless of ownership.
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	// Only the owned transfer earns a point; the orphan has no user to credit
	// and the mint never qualifies.
	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].UserID != owner.ID || events[0].Type != domain.EventMaspTransfer || events[0].Points != 1 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestEngine_NotesAggregatePerTransactionIdentity(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	engine, _ := newTestEngine(store)

	op := depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 6_000_000)
	op.Transactions[0].Notes = append(op.Transactions[0].Notes, domain.Note{Identity: "alice", Amount: 6_000_000})

	rows, err := engine.Upsert(context.Background(), op)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 aggregated row", len(rows))
	}
	if rows[0].Amount != 12_000_000 {
		t.Errorf("aggregated amount = %d, want 12_000_000", rows[0].Amount)
	}
	// Two sub-minimum notes qualify once summed.
	events := store.Events()
	if len(events) != 1 || events[0].Points != 1 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestEngine_ScheduleFailureSurfaces(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	sched := &mockScheduler{err: errors.New("redis down")}
	engine := NewEngine(store, store, store, sched, Config{NetworkVersion: 1}, slog.Default())

	_, err := engine.Upsert(context.Background(),
		depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 32_000_000))
	if err == nil {
		t.Fatal("expected error when refresh scheduling fails")
	}
	// The write itself committed; redelivery replays an idempotent upsert.
	if len(store.Rows()) != 1 {
		t.Errorf("got %d rows, want committed row", len(store.Rows()))
	}
}

func TestEngine_RepairRowRealignsWithBlockTable(t *testing.T) {
	store := memory.NewStore()
	store.AddUser("alice")
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	if _, err := engine.Upsert(ctx, depositOp(domain.OperationConnected, "b1", "b0", 10, "tx1", "alice", 32_000_000)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	row := store.Rows()[0]

	// Drift: the row lost its main flag while the block stayed canonical.
	store.CorruptRowMain(row.ID, false)

	if err := engine.RepairRow(ctx, store.Rows()[0]); err != nil {
		t.Fatalf("RepairRow failed: %v", err)
	}
	repaired := store.Rows()[0]
	if !repaired.Main {
		t.Error("row not restored to main")
	}
	events := store.Events()
	if len(events) != 1 || events[0].Points != 3 {
		t.Fatalf("unexpected events after repair: %+v", events)
	}

	// Drift the other way: the block disappeared entirely.
	store.DeleteBlock("b1")
	if err := engine.RepairRow(ctx, store.Rows()[0]); err != nil {
		t.Fatalf("RepairRow failed: %v", err)
	}
	if store.Rows()[0].Main {
		t.Error("row still main with no backing block")
	}
	if len(store.Events()) != 0 {
		t.Error("events survived repair of an unbacked row")
	}
}
