package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
)

// UnitOfWork bundles all ledger mutations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// Begin opens a new unit of work with an active transaction.
func (db *DB) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// UpsertBlock creates or updates the authoritative block row.
func (u *UnitOfWork) UpsertBlock(ctx context.Context, block *domain.Block) error {
	query := `
		INSERT INTO blocks (hash, previous_hash, sequence, timestamp, main)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO UPDATE SET
			previous_hash = EXCLUDED.previous_hash,
			sequence = EXCLUDED.sequence,
			timestamp = EXCLUDED.timestamp,
			main = EXCLUDED.main
	`
	_, err := u.tx.ExecContext(ctx, query,
		block.Hash,
		block.PreviousHash,
		block.Sequence,
		block.Timestamp,
		block.Main,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert block: %w", err)
	}
	return nil
}

// BlockByHash returns the block row or nil when absent.
func (u *UnitOfWork) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	query := `
		SELECT hash, previous_hash, sequence, timestamp, main
		FROM blocks
		WHERE hash = $1
	`
	var b domain.Block
	err := u.tx.QueryRowContext(ctx, query, hash).
		Scan(&b.Hash, &b.PreviousHash, &b.Sequence, &b.Timestamp, &b.Main)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return &b, nil
}

// RowsByKeys returns existing rows for the given (transaction hash, identity)
// keys, wherever their current block reference points.
func (u *UnitOfWork) RowsByKeys(
	ctx context.Context,
	ledger domain.LedgerKind,
	networkVersion int,
	keys []storage.RowKey,
) ([]domain.LedgerRow, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	txHashes := make([]string, len(keys))
	identities := make([]string, len(keys))
	for i, k := range keys {
		txHashes[i] = k.TransactionHash
		identities[i] = k.Identity
	}

	query := `
		SELECT r.id, r.ledger_kind, r.transaction_hash, r.block_hash, r.block_sequence,
		       r.network_version, r.identity, r.amount, r.masp_kind, r.main
		FROM ledger_rows r
		JOIN unnest($3::text[], $4::text[]) AS k(transaction_hash, identity)
		  ON r.transaction_hash = k.transaction_hash AND r.identity = k.identity
		WHERE r.ledger_kind = $1 AND r.network_version = $2
	`
	rows, err := u.tx.QueryContext(ctx, query, string(ledger), networkVersion, txHashes, identities)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger rows: %w", err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

// InsertRows inserts genuinely new rows and fills in their IDs.
func (u *UnitOfWork) InsertRows(ctx context.Context, rowsIn []*domain.LedgerRow) error {
	if len(rowsIn) == 0 {
		return nil
	}

	query := `
		INSERT INTO ledger_rows
			(ledger_kind, transaction_hash, block_hash, block_sequence, network_version, identity, amount, masp_kind, main)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	stmt, err := u.tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rowsIn {
		err := stmt.QueryRowContext(ctx,
			string(r.Ledger),
			r.TransactionHash,
			r.BlockHash,
			r.BlockSequence,
			r.NetworkVersion,
			r.Identity,
			r.Amount,
			string(r.MaspKind),
			r.Main,
		).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("failed to insert ledger row: %w", err)
		}
	}
	return nil
}

// ReassignRows moves existing rows onto a block without duplicating them,
// refreshing their amount and kind alongside the block reference.
func (u *UnitOfWork) ReassignRows(ctx context.Context, rowsIn []*domain.LedgerRow) error {
	if len(rowsIn) == 0 {
		return nil
	}
	query := `
		UPDATE ledger_rows
		SET block_hash = $2, block_sequence = $3, main = $4, amount = $5, masp_kind = $6
		WHERE id = $1
	`
	stmt, err := u.tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare row reassign: %w", err)
	}
	defer stmt.Close()

	for _, r := range rowsIn {
		_, err := stmt.ExecContext(ctx,
			r.ID, r.BlockHash, r.BlockSequence, r.Main, r.Amount, string(r.MaspKind))
		if err != nil {
			return fmt.Errorf("failed to reassign ledger row %d: %w", r.ID, err)
		}
	}
	return nil
}

// SetMainByBlock flips the main flag on every row of a block and returns the
// affected rows.
func (u *UnitOfWork) SetMainByBlock(
	ctx context.Context,
	ledger domain.LedgerKind,
	blockHash string,
	main bool,
) ([]domain.LedgerRow, error) {
	query := `
		UPDATE ledger_rows
		SET main = $3
		WHERE ledger_kind = $1 AND block_hash = $2
		RETURNING id, ledger_kind, transaction_hash, block_hash, block_sequence,
		          network_version, identity, amount, masp_kind, main
	`
	rows, err := u.tx.QueryContext(ctx, query, string(ledger), blockHash, main)
	if err != nil {
		return nil, fmt.Errorf("failed to flip rows for block %s: %w", blockHash, err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

// SetRowMain flips the main flag of a single row.
func (u *UnitOfWork) SetRowMain(ctx context.Context, rowID int64, main bool) error {
	_, err := u.tx.ExecContext(ctx,
		`UPDATE ledger_rows SET main = $2 WHERE id = $1`, rowID, main)
	if err != nil {
		return fmt.Errorf("failed to set row main: %w", err)
	}
	return nil
}

// DeleteEventsByRows deletes the reward events owned by the given rows and
// returns what was deleted.
func (u *UnitOfWork) DeleteEventsByRows(
	ctx context.Context,
	rowIDs []int64,
) ([]domain.RewardEvent, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	query := `
		DELETE FROM reward_events
		WHERE ledger_row_id = ANY($1::bigint[])
		RETURNING id, user_id, type, points, occurred_at, ledger_row_id
	`
	rows, err := u.tx.QueryContext(ctx, query, rowIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to delete reward events: %w", err)
	}
	defer rows.Close()

	var deleted []domain.RewardEvent
	for rows.Next() {
		var e domain.RewardEvent
		var t string
		if err := rows.Scan(&e.ID, &e.UserID, &t, &e.Points, &e.OccurredAt, &e.LedgerRowID); err != nil {
			return nil, fmt.Errorf("failed to scan deleted event: %w", err)
		}
		e.Type = domain.EventType(t)
		deleted = append(deleted, e)
	}
	return deleted, rows.Err()
}

// InsertEvents creates reward events.
func (u *UnitOfWork) InsertEvents(ctx context.Context, events []*domain.RewardEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := `
		INSERT INTO reward_events (user_id, type, points, occurred_at, ledger_row_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	stmt, err := u.tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		err := stmt.QueryRowContext(ctx,
			e.UserID, string(e.Type), e.Points, e.OccurredAt, e.LedgerRowID,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("failed to insert reward event: %w", err)
		}
	}
	return nil
}

// PutHead advances the ledger's head pointer.
func (u *UnitOfWork) PutHead(ctx context.Context, ledger domain.LedgerKind, blockHash string) error {
	query := `
		INSERT INTO head_pointers (ledger_kind, block_hash)
		VALUES ($1, $2)
		ON CONFLICT (ledger_kind) DO UPDATE SET block_hash = EXCLUDED.block_hash
	`
	_, err := u.tx.ExecContext(ctx, query, string(ledger), blockHash)
	if err != nil {
		return fmt.Errorf("failed to put head pointer: %w", err)
	}
	return nil
}

func scanLedgerRows(rows *sql.Rows) ([]domain.LedgerRow, error) {
	var out []domain.LedgerRow
	for rows.Next() {
		var r domain.LedgerRow
		var ledger, maspKind string
		err := rows.Scan(
			&r.ID, &ledger, &r.TransactionHash, &r.BlockHash, &r.BlockSequence,
			&r.NetworkVersion, &r.Identity, &r.Amount, &maspKind, &r.Main,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		r.Ledger = domain.LedgerKind(ledger)
		r.MaspKind = domain.MaspKind(maspKind)
		out = append(out, r)
	}
	return out, rows.Err()
}
