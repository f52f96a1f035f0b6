package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
	"github.com/vietddude/rewarder/internal/metrics"
)

// ErrForkOperation is returned when a FORK operation reaches the engine.
// Forks are not ledger-relevant; routing one here is a programming error and
// must fail loudly instead of being silently ignored.
var ErrForkOperation = errors.New("fork operations are not supported by the ledger")

// PointsScheduler schedules a deferred points refresh for one user/category.
// Implemented by points.Scheduler; the engine only emits work items.
type PointsScheduler interface {
	Schedule(ctx context.Context, userID int64, t domain.EventType) error
}

// Config holds engine tuning.
type Config struct {
	NetworkVersion int
	// TransactionTimeout bounds one upsert transaction. A single block may
	// carry thousands of transactions, so this is generous.
	TransactionTimeout time.Duration
	Rules              domain.Rules
}

// Engine applies block operations to the ledger. It is the only writer of
// ledger rows, reward events and head pointers, and every operation runs in
// one database transaction.
type Engine struct {
	store     storage.TxStarter
	users     storage.UserRepository
	assets    storage.AssetRepository
	scheduler PointsScheduler
	rules     domain.Rules
	netVer    int
	txTimeout time.Duration
	log       *slog.Logger
}

// NewEngine creates a ledger engine.
func NewEngine(
	store storage.TxStarter,
	users storage.UserRepository,
	assets storage.AssetRepository,
	scheduler PointsScheduler,
	cfg Config,
	log *slog.Logger,
) *Engine {
	rules := cfg.Rules
	if rules == nil {
		rules = domain.DefaultRules()
	}
	timeout := cfg.TransactionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Engine{
		store:     store,
		users:     users,
		assets:    assets,
		scheduler: scheduler,
		rules:     rules,
		netVer:    cfg.NetworkVersion,
		txTimeout: timeout,
		log:       log,
	}
}

// touch identifies one user/category whose rollup became stale.
type touch struct {
	UserID int64
	Type   domain.EventType
}

// Upsert applies one block operation atomically and returns the affected
// rows. Re-running the same operation produces identical final state.
func (e *Engine) Upsert(ctx context.Context, op domain.BlockOperation) ([]domain.LedgerRow, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if op.Kind == domain.OperationFork {
		return nil, fmt.Errorf("%w: block %s", ErrForkOperation, op.Block.Hash)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	var (
		rows    []domain.LedgerRow
		touched map[touch]struct{}
		err     error
	)
	switch op.Kind {
	case domain.OperationConnected:
		rows, touched, err = e.connect(ctx, op)
	case domain.OperationDisconnected:
		rows, touched, err = e.disconnect(ctx, op)
	}
	if err != nil {
		return nil, err
	}

	metrics.OperationsProcessed.WithLabelValues(string(op.Ledger), string(op.Kind)).Inc()
	metrics.LedgerRowsUpserted.WithLabelValues(string(op.Ledger)).Add(float64(len(rows)))
	metrics.UpsertDuration.WithLabelValues(string(op.Ledger)).Observe(time.Since(start).Seconds())

	if err := e.scheduleRefreshes(ctx, touched); err != nil {
		return nil, err
	}

	e.log.Debug("applied block operation",
		"ledger", op.Ledger,
		"kind", op.Kind,
		"block", op.Block.Hash,
		"sequence", op.Block.Sequence,
		"rows", len(rows),
	)
	return rows, nil
}

func (e *Engine) connect(
	ctx context.Context,
	op domain.BlockOperation,
) ([]domain.LedgerRow, map[touch]struct{}, error) {
	entries := aggregateEntries(op)

	entries, userByIdentity, err := e.resolveIdentities(ctx, op.Ledger, entries)
	if err != nil {
		return nil, nil, err
	}

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer uow.Rollback()

	err = uow.UpsertBlock(ctx, &domain.Block{
		Hash:         op.Block.Hash,
		PreviousHash: op.Block.PreviousHash,
		Sequence:     op.Block.Sequence,
		Timestamp:    op.Block.Timestamp,
		Main:         true,
	})
	if err != nil {
		return nil, nil, err
	}

	keys := make([]storage.RowKey, len(entries))
	for i, en := range entries {
		keys[i] = en.key
	}
	existing, err := uow.RowsByKeys(ctx, op.Ledger, e.netVer, keys)
	if err != nil {
		return nil, nil, err
	}

	// The same (transaction, identity) pair may already exist on a different
	// block after a reorg; reassign instead of inserting duplicates.
	existingByKey := make(map[storage.RowKey]*domain.LedgerRow, len(existing))
	for i := range existing {
		r := &existing[i]
		existingByKey[storage.RowKey{TransactionHash: r.TransactionHash, Identity: r.Identity}] = r
	}

	var reassign []*domain.LedgerRow
	var inserts []*domain.LedgerRow
	for _, en := range entries {
		if r, ok := existingByKey[en.key]; ok {
			r.BlockHash = op.Block.Hash
			r.BlockSequence = op.Block.Sequence
			r.Main = true
			r.Amount = en.amount
			r.MaspKind = en.maspKind
			reassign = append(reassign, r)
			continue
		}
		inserts = append(inserts, &domain.LedgerRow{
			Ledger:          op.Ledger,
			TransactionHash: en.key.TransactionHash,
			BlockHash:       op.Block.Hash,
			BlockSequence:   op.Block.Sequence,
			NetworkVersion:  e.netVer,
			Identity:        en.key.Identity,
			Amount:          en.amount,
			MaspKind:        en.maspKind,
			Main:            true,
		})
	}

	if err := uow.ReassignRows(ctx, reassign); err != nil {
		return nil, nil, err
	}
	if err := uow.InsertRows(ctx, inserts); err != nil {
		return nil, nil, err
	}

	all := make([]domain.LedgerRow, 0, len(existing)+len(inserts))
	all = append(all, existing...)
	for _, r := range inserts {
		all = append(all, *r)
	}

	// Reset-then-recreate: a row's qualification can change between runs, so
	// existing events for these rows are dropped before the current set is
	// derived from the qualification table.
	rowIDs := make([]int64, len(all))
	for i, r := range all {
		rowIDs[i] = r.ID
	}
	deleted, err := uow.DeleteEventsByRows(ctx, rowIDs)
	if err != nil {
		return nil, nil, err
	}

	events := e.qualify(all, userByIdentity, op.Block.Timestamp)
	if err := uow.InsertEvents(ctx, events); err != nil {
		return nil, nil, err
	}

	if err := uow.PutHead(ctx, op.Ledger, op.Block.Hash); err != nil {
		return nil, nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, nil, err
	}

	for _, ev := range deleted {
		metrics.RewardEventsDeleted.WithLabelValues(string(ev.Type)).Inc()
	}
	for _, ev := range events {
		metrics.RewardEventsCreated.WithLabelValues(string(ev.Type)).Inc()
	}

	touched := make(map[touch]struct{})
	for _, ev := range deleted {
		touched[touch{ev.UserID, ev.Type}] = struct{}{}
	}
	for _, ev := range events {
		touched[touch{ev.UserID, ev.Type}] = struct{}{}
	}
	return all, touched, nil
}

func (e *Engine) disconnect(
	ctx context.Context,
	op domain.BlockOperation,
) ([]domain.LedgerRow, map[touch]struct{}, error) {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer uow.Rollback()

	block, err := uow.BlockByHash(ctx, op.Block.Hash)
	if err != nil {
		return nil, nil, err
	}
	if block == nil {
		block = &domain.Block{
			Hash:         op.Block.Hash,
			PreviousHash: op.Block.PreviousHash,
			Sequence:     op.Block.Sequence,
			Timestamp:    op.Block.Timestamp,
		}
	}
	block.Main = false
	if err := uow.UpsertBlock(ctx, block); err != nil {
		return nil, nil, err
	}

	rows, err := uow.SetMainByBlock(ctx, op.Ledger, op.Block.Hash, false)
	if err != nil {
		return nil, nil, err
	}

	// Losing chain membership retracts the reward.
	rowIDs := make([]int64, len(rows))
	for i, r := range rows {
		rowIDs[i] = r.ID
	}
	deleted, err := uow.DeleteEventsByRows(ctx, rowIDs)
	if err != nil {
		return nil, nil, err
	}

	// The chain's new tip after the rollback.
	if err := uow.PutHead(ctx, op.Ledger, op.Block.PreviousHash); err != nil {
		return nil, nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, nil, err
	}

	touched := make(map[touch]struct{})
	for _, ev := range deleted {
		metrics.RewardEventsDeleted.WithLabelValues(string(ev.Type)).Inc()
		touched[touch{ev.UserID, ev.Type}] = struct{}{}
	}
	return rows, touched, nil
}

// RepairRow re-derives a single row's main flag from the (possibly absent)
// block record and replays the qualification logic, leaving the row exactly
// as if the original operations had been applied in order. Used by the
// mismatch reconciler; it shares the engine's transactional write path.
func (e *Engine) RepairRow(ctx context.Context, row domain.LedgerRow) error {
	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	userID, userKnown, err := e.resolveRowUser(ctx, row)
	if err != nil {
		return err
	}

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	block, err := uow.BlockByHash(ctx, row.BlockHash)
	if err != nil {
		return err
	}
	shouldMain := block != nil && block.Main

	if err := uow.SetRowMain(ctx, row.ID, shouldMain); err != nil {
		return err
	}
	deleted, err := uow.DeleteEventsByRows(ctx, []int64{row.ID})
	if err != nil {
		return err
	}

	var created []*domain.RewardEvent
	if shouldMain && userKnown {
		row.Main = true
		created = e.qualifyRow(row, userID, block.Timestamp)
		if err := uow.InsertEvents(ctx, created); err != nil {
			return err
		}
	}

	if err := uow.Commit(); err != nil {
		return err
	}

	touched := make(map[touch]struct{})
	for _, ev := range deleted {
		metrics.RewardEventsDeleted.WithLabelValues(string(ev.Type)).Inc()
		touched[touch{ev.UserID, ev.Type}] = struct{}{}
	}
	for _, ev := range created {
		metrics.RewardEventsCreated.WithLabelValues(string(ev.Type)).Inc()
		touched[touch{ev.UserID, ev.Type}] = struct{}{}
	}
	return e.scheduleRefreshes(ctx, touched)
}

// entry is one aggregated (transaction, identity) pair.
type entry struct {
	key      storage.RowKey
	amount   int64
	maspKind domain.MaspKind
}

// aggregateEntries folds a block's notes into one entry per (transaction,
// identity) pair; multiple notes for the same identity within one transaction
// are summed, not recorded separately.
func aggregateEntries(op domain.BlockOperation) []entry {
	index := make(map[storage.RowKey]int)
	var out []entry
	for _, tx := range op.Transactions {
		for _, note := range tx.Notes {
			if note.Identity == "" {
				continue
			}
			key := storage.RowKey{TransactionHash: tx.Hash, Identity: note.Identity}
			if i, ok := index[key]; ok {
				out[i].amount += note.Amount
				continue
			}
			index[key] = len(out)
			out = append(out, entry{key: key, amount: note.Amount, maspKind: note.Kind})
		}
	}
	return out
}

// resolveIdentities maps entry identities to user IDs in one batched lookup.
// Deposit entries without a matching graffiti are dropped entirely; MASP rows
// exist independent of ownership, so those entries are kept and simply carry
// no user.
func (e *Engine) resolveIdentities(
	ctx context.Context,
	ledger domain.LedgerKind,
	entries []entry,
) ([]entry, map[string]int64, error) {
	identities := make([]string, 0, len(entries))
	seen := make(map[string]bool)
	for _, en := range entries {
		if !seen[en.key.Identity] {
			seen[en.key.Identity] = true
			identities = append(identities, en.key.Identity)
		}
	}

	userByIdentity := make(map[string]int64)
	switch ledger {
	case domain.LedgerDeposits:
		users, err := e.users.ByGraffiti(ctx, identities)
		if err != nil {
			return nil, nil, err
		}
		kept := entries[:0]
		for _, en := range entries {
			u, ok := users[en.key.Identity]
			if !ok {
				// Unknown graffiti is a business rule, not a fault.
				continue
			}
			userByIdentity[en.key.Identity] = u.ID
			kept = append(kept, en)
		}
		entries = kept
	case domain.LedgerMaspTransactions:
		assets, err := e.assets.ByName(ctx, identities)
		if err != nil {
			return nil, nil, err
		}
		for name, a := range assets {
			if a.OwnerID != nil {
				userByIdentity[name] = *a.OwnerID
			}
		}
	}
	return entries, userByIdentity, nil
}

func (e *Engine) resolveRowUser(ctx context.Context, row domain.LedgerRow) (int64, bool, error) {
	switch row.Ledger {
	case domain.LedgerDeposits:
		users, err := e.users.ByGraffiti(ctx, []string{row.Identity})
		if err != nil {
			return 0, false, err
		}
		if u, ok := users[row.Identity]; ok {
			return u.ID, true, nil
		}
	case domain.LedgerMaspTransactions:
		assets, err := e.assets.ByName(ctx, []string{row.Identity})
		if err != nil {
			return 0, false, err
		}
		if a, ok := assets[row.Identity]; ok && a.OwnerID != nil {
			return *a.OwnerID, true, nil
		}
	}
	return 0, false, nil
}

// qualify derives the reward events the given rows currently earn.
func (e *Engine) qualify(
	rows []domain.LedgerRow,
	userByIdentity map[string]int64,
	occurredAt time.Time,
) []*domain.RewardEvent {
	var out []*domain.RewardEvent
	for _, r := range rows {
		userID, ok := userByIdentity[r.Identity]
		if !ok {
			continue
		}
		out = append(out, e.qualifyRow(r, userID, occurredAt)...)
	}
	return out
}

func (e *Engine) qualifyRow(
	row domain.LedgerRow,
	userID int64,
	occurredAt time.Time,
) []*domain.RewardEvent {
	if !row.Main {
		return nil
	}
	t, ok := row.EventType()
	if !ok {
		return nil
	}
	points := e.rules[t].PointsFor(row.Amount)
	if points <= 0 {
		return nil
	}
	return []*domain.RewardEvent{{
		UserID:      userID,
		Type:        t,
		Points:      points,
		OccurredAt:  occurredAt,
		LedgerRowID: row.ID,
	}}
}

// scheduleRefreshes emits one deduplicated points refresh per touched
// user/category. Failures are returned so the transport can redeliver the
// operation; the upsert itself is idempotent under that redelivery.
func (e *Engine) scheduleRefreshes(ctx context.Context, touched map[touch]struct{}) error {
	var errs []error
	for t := range touched {
		if err := e.scheduler.Schedule(ctx, t.UserID, t.Type); err != nil {
			errs = append(errs, fmt.Errorf("failed to schedule points refresh for user %d: %w", t.UserID, err))
		}
	}
	return errors.Join(errs...)
}
