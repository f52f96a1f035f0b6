package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
)

func TestUnitOfWork_RollbackRestoresState(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	err = uow.UpsertBlock(ctx, &domain.Block{Hash: "b1", Sequence: 1, Timestamp: time.Now(), Main: true})
	if err != nil {
		t.Fatalf("UpsertBlock failed: %v", err)
	}
	err = uow.InsertRows(ctx, []*domain.LedgerRow{{
		Ledger: domain.LedgerDeposits, TransactionHash: "tx1", BlockHash: "b1",
		BlockSequence: 1, NetworkVersion: 1, Identity: "alice", Amount: 10, Main: true,
	}})
	if err != nil {
		t.Fatalf("InsertRows failed: %v", err)
	}
	if err := uow.PutHead(ctx, domain.LedgerDeposits, "b1"); err != nil {
		t.Fatalf("PutHead failed: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if len(store.Rows()) != 0 {
		t.Error("rows survived rollback")
	}
	if _, err := store.GetHead(ctx, domain.LedgerDeposits); err != storage.ErrHeadNotFound {
		t.Errorf("head survived rollback: %v", err)
	}
}

func TestUnitOfWork_RollbackAfterCommitIsNoop(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := uow.PutHead(ctx, domain.LedgerDeposits, "b1"); err != nil {
		t.Fatalf("PutHead failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	head, err := store.GetHead(ctx, domain.LedgerDeposits)
	if err != nil {
		t.Fatalf("GetHead failed: %v", err)
	}
	if head.BlockHash != "b1" {
		t.Errorf("committed head lost: %q", head.BlockHash)
	}
}

func TestStore_RowsByKeysFiltersLedgerAndVersion(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	err = uow.InsertRows(ctx, []*domain.LedgerRow{
		{Ledger: domain.LedgerDeposits, TransactionHash: "tx1", Identity: "alice", NetworkVersion: 1},
		{Ledger: domain.LedgerDeposits, TransactionHash: "tx1", Identity: "alice", NetworkVersion: 2},
		{Ledger: domain.LedgerMaspTransactions, TransactionHash: "tx1", Identity: "alice", NetworkVersion: 1},
	})
	if err != nil {
		t.Fatalf("InsertRows failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	uow, err = store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer uow.Rollback()
	rows, err := uow.RowsByKeys(ctx, domain.LedgerDeposits, 1,
		[]storage.RowKey{{TransactionHash: "tx1", Identity: "alice"}})
	if err != nil {
		t.Fatalf("RowsByKeys failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (ledger and version scoped)", len(rows))
	}
	if rows[0].NetworkVersion != 1 || rows[0].Ledger != domain.LedgerDeposits {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}
