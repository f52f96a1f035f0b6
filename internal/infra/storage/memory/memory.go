package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
)

// Store is an in-memory implementation of the storage interfaces. It backs
// unit tests and local development without a database.
type Store struct {
	mu          sync.RWMutex
	blocks      map[string]*domain.Block
	rows        map[int64]*domain.LedgerRow
	events      map[int64]*domain.RewardEvent
	heads       map[domain.LedgerKind]string
	users       map[int64]*domain.User
	assets      map[string]*domain.Asset
	summaries   map[int64]*domain.UserPointsSummary
	nextRowID   int64
	nextEventID int64
	nextUserID  int64
	nextAssetID int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		blocks:    make(map[string]*domain.Block),
		rows:      make(map[int64]*domain.LedgerRow),
		events:    make(map[int64]*domain.RewardEvent),
		heads:     make(map[domain.LedgerKind]string),
		users:     make(map[int64]*domain.User),
		assets:    make(map[string]*domain.Asset),
		summaries: make(map[int64]*domain.UserPointsSummary),
	}
}

// AddUser seeds a user and returns it.
func (s *Store) AddUser(graffiti string) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u := &domain.User{ID: s.nextUserID, Graffiti: graffiti, CreatedAt: time.Now()}
	s.users[u.ID] = u
	return u
}

// AddAsset seeds an asset, optionally owned by a user.
func (s *Store) AddAsset(name string, ownerID *int64) *domain.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAssetID++
	a := &domain.Asset{ID: s.nextAssetID, Name: name, OwnerID: ownerID, CreatedAt: time.Now()}
	s.assets[a.Name] = a
	return a
}

// Rows returns a copy of every ledger row, ordered by ID.
func (s *Store) Rows() []domain.LedgerRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LedgerRow, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns a copy of every reward event, ordered by ID.
func (s *Store) Events() []domain.RewardEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RewardEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CorruptRowMain flips a row's main flag directly, bypassing the engine.
// Test helper for provoking mismatches.
func (s *Store) CorruptRowMain(rowID int64, main bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[rowID]; ok {
		r.Main = main
	}
}

// DeleteBlock removes a block row directly, bypassing the engine.
func (s *Store) DeleteBlock(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, hash)
}

// -----------------------------------------------------------------------------
// Unit of work
// -----------------------------------------------------------------------------

type unitOfWork struct {
	store *Store
	snap  *snapshot
	done  bool
}

type snapshot struct {
	blocks      map[string]*domain.Block
	rows        map[int64]*domain.LedgerRow
	events      map[int64]*domain.RewardEvent
	heads       map[domain.LedgerKind]string
	nextRowID   int64
	nextEventID int64
}

// Begin opens a unit of work. Rollback restores the state captured here.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &unitOfWork{store: s, snap: s.snapshot()}, nil
}

func (s *Store) snapshot() *snapshot {
	snap := &snapshot{
		blocks:      make(map[string]*domain.Block, len(s.blocks)),
		rows:        make(map[int64]*domain.LedgerRow, len(s.rows)),
		events:      make(map[int64]*domain.RewardEvent, len(s.events)),
		heads:       make(map[domain.LedgerKind]string, len(s.heads)),
		nextRowID:   s.nextRowID,
		nextEventID: s.nextEventID,
	}
	for k, v := range s.blocks {
		cp := *v
		snap.blocks[k] = &cp
	}
	for k, v := range s.rows {
		cp := *v
		snap.rows[k] = &cp
	}
	for k, v := range s.events {
		cp := *v
		snap.events[k] = &cp
	}
	for k, v := range s.heads {
		snap.heads[k] = v
	}
	return snap
}

func (u *unitOfWork) Commit() error {
	u.done = true
	u.snap = nil
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done || u.snap == nil {
		return nil
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.store.blocks = u.snap.blocks
	u.store.rows = u.snap.rows
	u.store.events = u.snap.events
	u.store.heads = u.snap.heads
	u.store.nextRowID = u.snap.nextRowID
	u.store.nextEventID = u.snap.nextEventID
	u.done = true
	u.snap = nil
	return nil
}

func (u *unitOfWork) UpsertBlock(ctx context.Context, block *domain.Block) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	cp := *block
	u.store.blocks[block.Hash] = &cp
	return nil
}

func (u *unitOfWork) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	b, ok := u.store.blocks[hash]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (u *unitOfWork) RowsByKeys(
	ctx context.Context,
	ledger domain.LedgerKind,
	networkVersion int,
	keys []storage.RowKey,
) ([]domain.LedgerRow, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	want := make(map[storage.RowKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []domain.LedgerRow
	for _, r := range u.store.rows {
		if r.Ledger != ledger || r.NetworkVersion != networkVersion {
			continue
		}
		if want[storage.RowKey{TransactionHash: r.TransactionHash, Identity: r.Identity}] {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *unitOfWork) InsertRows(ctx context.Context, rows []*domain.LedgerRow) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, r := range rows {
		u.store.nextRowID++
		r.ID = u.store.nextRowID
		cp := *r
		u.store.rows[r.ID] = &cp
	}
	return nil
}

func (u *unitOfWork) ReassignRows(ctx context.Context, rows []*domain.LedgerRow) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, in := range rows {
		if r, ok := u.store.rows[in.ID]; ok {
			r.BlockHash = in.BlockHash
			r.BlockSequence = in.BlockSequence
			r.Main = in.Main
			r.Amount = in.Amount
			r.MaspKind = in.MaspKind
		}
	}
	return nil
}

func (u *unitOfWork) SetMainByBlock(
	ctx context.Context,
	ledger domain.LedgerKind,
	blockHash string,
	main bool,
) ([]domain.LedgerRow, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	var out []domain.LedgerRow
	for _, r := range u.store.rows {
		if r.Ledger == ledger && r.BlockHash == blockHash {
			r.Main = main
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *unitOfWork) SetRowMain(ctx context.Context, rowID int64, main bool) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if r, ok := u.store.rows[rowID]; ok {
		r.Main = main
	}
	return nil
}

func (u *unitOfWork) DeleteEventsByRows(
	ctx context.Context,
	rowIDs []int64,
) ([]domain.RewardEvent, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	want := make(map[int64]bool, len(rowIDs))
	for _, id := range rowIDs {
		want[id] = true
	}
	var deleted []domain.RewardEvent
	for id, e := range u.store.events {
		if want[e.LedgerRowID] {
			deleted = append(deleted, *e)
			delete(u.store.events, id)
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].ID < deleted[j].ID })
	return deleted, nil
}

func (u *unitOfWork) InsertEvents(ctx context.Context, events []*domain.RewardEvent) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, e := range events {
		u.store.nextEventID++
		e.ID = u.store.nextEventID
		cp := *e
		u.store.events[e.ID] = &cp
	}
	return nil
}

func (u *unitOfWork) PutHead(ctx context.Context, ledger domain.LedgerKind, blockHash string) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.store.heads[ledger] = blockHash
	return nil
}

// -----------------------------------------------------------------------------
// Read repositories
// -----------------------------------------------------------------------------

// Get retrieves a user by ID.
func (s *Store) Get(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// ByGraffiti resolves graffiti memos to users.
func (s *Store) ByGraffiti(
	ctx context.Context,
	graffiti []string,
) (map[string]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.User)
	for _, g := range graffiti {
		for _, u := range s.users {
			if u.Graffiti == g {
				cp := *u
				out[g] = &cp
			}
		}
	}
	return out, nil
}

// ByName resolves asset names.
func (s *Store) ByName(ctx context.Context, names []string) (map[string]*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.Asset)
	for _, n := range names {
		if a, ok := s.assets[n]; ok {
			cp := *a
			out[n] = &cp
		}
	}
	return out, nil
}

// GetHead retrieves the head pointer for a ledger.
func (s *Store) GetHead(ctx context.Context, ledger domain.LedgerKind) (*domain.HeadPointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.heads[ledger]
	if !ok {
		return nil, storage.ErrHeadNotFound
	}
	return &domain.HeadPointer{Ledger: ledger, BlockHash: hash}, nil
}

// CategorySummary computes the rollup for one user and category.
func (s *Store) CategorySummary(
	ctx context.Context,
	userID int64,
	t domain.EventType,
) (domain.CategorySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out domain.CategorySummary
	for _, e := range s.events {
		if e.UserID != userID || e.Type != t {
			continue
		}
		out.Points += e.Points
		out.Count++
		if out.LastOccurredAt == nil || e.OccurredAt.After(*out.LastOccurredAt) {
			occurred := e.OccurredAt
			out.LastOccurredAt = &occurred
		}
	}
	return out, nil
}

// UpsertSummary replaces the user's summary row.
func (s *Store) UpsertSummary(ctx context.Context, summary *domain.UserPointsSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *summary
	cp.Categories = make(map[domain.EventType]domain.CategorySummary, len(summary.Categories))
	for t, c := range summary.Categories {
		cp.Categories[t] = c
	}
	s.summaries[summary.UserID] = &cp
	return nil
}

// GetSummary retrieves the summary row for a user.
func (s *Store) GetSummary(ctx context.Context, userID int64) (*domain.UserPointsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[userID]
	if !ok {
		return nil, nil
	}
	cp := *sum
	return &cp, nil
}

// HeadSequence returns the block sequence the ledger head points at.
func (s *Store) HeadSequence(ctx context.Context, ledger domain.LedgerKind) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.heads[ledger]
	if !ok {
		return 0, false, nil
	}
	b, ok := s.blocks[hash]
	if !ok {
		return 0, false, nil
	}
	return b.Sequence, true, nil
}

// FindMismatches returns rows whose main flag disagrees with the block table.
func (s *Store) FindMismatches(
	ctx context.Context,
	ledger domain.LedgerKind,
	maxSequence int64,
	limit int,
) ([]domain.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerRow
	for _, r := range s.rows {
		if r.Ledger != ledger || r.BlockSequence > maxSequence {
			continue
		}
		if s.isMismatched(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockSequence < out[j].BlockSequence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountMismatches counts without fetching.
func (s *Store) CountMismatches(
	ctx context.Context,
	ledger domain.LedgerKind,
	maxSequence int64,
) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, r := range s.rows {
		if r.Ledger != ledger || r.BlockSequence > maxSequence {
			continue
		}
		if s.isMismatched(r) {
			count++
		}
	}
	return count, nil
}

func (s *Store) isMismatched(r *domain.LedgerRow) bool {
	b, ok := s.blocks[r.BlockHash]
	if !ok {
		return r.Main
	}
	return b.Main != r.Main
}

// HeadRepo adapts the store to storage.HeadRepository.
type HeadRepo struct {
	store *Store
}

// NewHeadRepo creates a head pointer view over the store.
func NewHeadRepo(store *Store) *HeadRepo {
	return &HeadRepo{store: store}
}

// Get retrieves the head pointer for a ledger.
func (r *HeadRepo) Get(ctx context.Context, ledger domain.LedgerKind) (*domain.HeadPointer, error) {
	return r.store.GetHead(ctx, ledger)
}
