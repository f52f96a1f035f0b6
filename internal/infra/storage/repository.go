package storage

import (
	"context"
	"errors"

	"github.com/vietddude/rewarder/internal/core/domain"
)

var (
	// ErrHeadNotFound is returned when a ledger has no head pointer yet.
	ErrHeadNotFound = errors.New("head pointer not found")

	// ErrUnexpectedResponse is returned when a raw query produces a shape the
	// engine cannot reason about (schema drift).
	ErrUnexpectedResponse = errors.New("unexpected database response")
)

// RowKey identifies a ledger row within one ledger and network version.
type RowKey struct {
	TransactionHash string
	Identity        string
}

// UnitOfWork bundles every ledger mutation into a single database
// transaction. The upsert engine is the only writer of ledger rows, reward
// events and head pointers, and it only writes through this interface.
type UnitOfWork interface {
	// UpsertBlock creates or updates the authoritative block row.
	UpsertBlock(ctx context.Context, block *domain.Block) error

	// BlockByHash returns the block row or nil when absent.
	BlockByHash(ctx context.Context, hash string) (*domain.Block, error)

	// RowsByKeys returns the existing rows for the given keys, wherever their
	// current block reference points.
	RowsByKeys(ctx context.Context, ledger domain.LedgerKind, networkVersion int, keys []RowKey) ([]domain.LedgerRow, error)

	// InsertRows inserts genuinely new rows and fills in their IDs.
	InsertRows(ctx context.Context, rows []*domain.LedgerRow) error

	// ReassignRows moves existing rows onto a block without duplicating them,
	// refreshing their amount and kind alongside the block reference.
	ReassignRows(ctx context.Context, rows []*domain.LedgerRow) error

	// SetMainByBlock flips the main flag on every row of a block and returns
	// the affected rows.
	SetMainByBlock(ctx context.Context, ledger domain.LedgerKind, blockHash string, main bool) ([]domain.LedgerRow, error)

	// SetRowMain flips the main flag of a single row.
	SetRowMain(ctx context.Context, rowID int64, main bool) error

	// DeleteEventsByRows deletes the reward events owned by the given rows and
	// returns what was deleted.
	DeleteEventsByRows(ctx context.Context, rowIDs []int64) ([]domain.RewardEvent, error)

	// InsertEvents creates reward events.
	InsertEvents(ctx context.Context, events []*domain.RewardEvent) error

	// PutHead advances the ledger's head pointer.
	PutHead(ctx context.Context, ledger domain.LedgerKind, blockHash string) error

	Commit() error
	Rollback() error
}

// TxStarter opens units of work.
type TxStarter interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UserRepository resolves users. CRUD is owned elsewhere.
type UserRepository interface {
	Get(ctx context.Context, id int64) (*domain.User, error)

	// ByGraffiti resolves graffiti memos to users in one batched lookup.
	// Unknown graffiti are simply absent from the result.
	ByGraffiti(ctx context.Context, graffiti []string) (map[string]*domain.User, error)
}

// AssetRepository resolves MASP assets by name.
type AssetRepository interface {
	ByName(ctx context.Context, names []string) (map[string]*domain.Asset, error)
}

// HeadRepository reads head pointers for callers outside the engine.
type HeadRepository interface {
	// Get returns the head pointer or ErrHeadNotFound.
	Get(ctx context.Context, ledger domain.LedgerKind) (*domain.HeadPointer, error)
}

// EventRepository reads reward events for aggregation.
type EventRepository interface {
	// CategorySummary computes sum(points), count(*) and max(occurred_at) for
	// one user and category directly from the event table.
	CategorySummary(ctx context.Context, userID int64, t domain.EventType) (domain.CategorySummary, error)
}

// PointsRepository owns the user points summary rows.
type PointsRepository interface {
	UpsertSummary(ctx context.Context, summary *domain.UserPointsSummary) error
	GetSummary(ctx context.Context, userID int64) (*domain.UserPointsSummary, error)
}

// ReconcileRepository serves the mismatch reconciler's scan queries.
type ReconcileRepository interface {
	// HeadSequence returns the block sequence the ledger head points at.
	// ok is false when the ledger has no head or the head block is unknown.
	HeadSequence(ctx context.Context, ledger domain.LedgerKind) (seq int64, ok bool, err error)

	// FindMismatches returns rows at or below maxSequence whose main flag
	// disagrees with the block table, oldest first.
	FindMismatches(ctx context.Context, ledger domain.LedgerKind, maxSequence int64, limit int) ([]domain.LedgerRow, error)

	// CountMismatches counts without fetching.
	CountMismatches(ctx context.Context, ledger domain.LedgerKind, maxSequence int64) (int64, error)
}
