package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
)

// HeadRepo implements storage.HeadRepository using PostgreSQL.
type HeadRepo struct {
	db *DB
}

// NewHeadRepo creates a new PostgreSQL head pointer repository.
func NewHeadRepo(db *DB) *HeadRepo {
	return &HeadRepo{db: db}
}

// Get retrieves the head pointer for a ledger.
func (r *HeadRepo) Get(ctx context.Context, ledger domain.LedgerKind) (*domain.HeadPointer, error) {
	query := `SELECT ledger_kind, block_hash FROM head_pointers WHERE ledger_kind = $1`

	var h domain.HeadPointer
	var kind string
	err := r.db.QueryRowContext(ctx, query, string(ledger)).Scan(&kind, &h.BlockHash)
	if err == sql.ErrNoRows {
		return nil, storage.ErrHeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get head pointer: %w", err)
	}
	h.Ledger = domain.LedgerKind(kind)
	return &h, nil
}
