package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
)

// ReconcileRepo implements storage.ReconcileRepository using raw SQL against
// the ledger_rows / blocks join. Scan failures are reported as
// storage.ErrUnexpectedResponse because they indicate schema drift the engine
// cannot reason about.
type ReconcileRepo struct {
	db *DB
}

// NewReconcileRepo creates a new PostgreSQL reconcile repository.
func NewReconcileRepo(db *DB) *ReconcileRepo {
	return &ReconcileRepo{db: db}
}

// mismatchRow is the raw shape of the reconciliation scan.
type mismatchRow struct {
	ID              int64  `db:"id"`
	LedgerKind      string `db:"ledger_kind"`
	TransactionHash string `db:"transaction_hash"`
	BlockHash       string `db:"block_hash"`
	BlockSequence   int64  `db:"block_sequence"`
	NetworkVersion  int    `db:"network_version"`
	Identity        string `db:"identity"`
	Amount          int64  `db:"amount"`
	MaspKind        string `db:"masp_kind"`
	Main            bool   `db:"main"`
}

// A row is mismatched when its main flag disagrees with the block table, or
// its block is gone while the row still claims main.
const mismatchWhere = `
	r.ledger_kind = $1
	AND r.block_sequence <= $2
	AND (
		(b.hash IS NULL AND r.main)
		OR (b.hash IS NOT NULL AND b.main <> r.main)
	)
`

// HeadSequence returns the block sequence the ledger head points at.
func (r *ReconcileRepo) HeadSequence(
	ctx context.Context,
	ledger domain.LedgerKind,
) (int64, bool, error) {
	query := `
		SELECT b.sequence
		FROM head_pointers h
		JOIN blocks b ON b.hash = h.block_hash
		WHERE h.ledger_kind = $1
	`
	var seq int64
	err := r.db.QueryRowContext(ctx, query, string(ledger)).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get head sequence: %w", err)
	}
	return seq, true, nil
}

// FindMismatches returns rows at or below maxSequence whose main flag
// disagrees with the block table, oldest first.
func (r *ReconcileRepo) FindMismatches(
	ctx context.Context,
	ledger domain.LedgerKind,
	maxSequence int64,
	limit int,
) ([]domain.LedgerRow, error) {
	query := `
		SELECT r.id, r.ledger_kind, r.transaction_hash, r.block_hash, r.block_sequence,
		       r.network_version, r.identity, r.amount, r.masp_kind, r.main
		FROM ledger_rows r
		LEFT JOIN blocks b ON b.hash = r.block_hash
		WHERE ` + mismatchWhere + `
		ORDER BY r.block_sequence ASC
		LIMIT $3
	`

	var raw []mismatchRow
	if err := r.db.SelectContext(ctx, &raw, query, string(ledger), maxSequence, limit); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnexpectedResponse, err)
	}

	out := make([]domain.LedgerRow, len(raw))
	for i, m := range raw {
		out[i] = domain.LedgerRow{
			ID:              m.ID,
			Ledger:          domain.LedgerKind(m.LedgerKind),
			TransactionHash: m.TransactionHash,
			BlockHash:       m.BlockHash,
			BlockSequence:   m.BlockSequence,
			NetworkVersion:  m.NetworkVersion,
			Identity:        m.Identity,
			Amount:          m.Amount,
			MaspKind:        domain.MaspKind(m.MaspKind),
			Main:            m.Main,
		}
	}
	return out, nil
}

// CountMismatches counts without fetching rows.
func (r *ReconcileRepo) CountMismatches(
	ctx context.Context,
	ledger domain.LedgerKind,
	maxSequence int64,
) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM ledger_rows r
		LEFT JOIN blocks b ON b.hash = r.block_hash
		WHERE ` + mismatchWhere

	var count int64
	if err := r.db.GetContext(ctx, &count, query, string(ledger), maxSequence); err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrUnexpectedResponse, err)
	}
	return count, nil
}
