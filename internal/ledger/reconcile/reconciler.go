package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
	"github.com/vietddude/rewarder/internal/metrics"
)

// Config holds reconciler tuning. Cutoff and row limit are operational
// knobs, not semantics.
type Config struct {
	// BeforeSequence excludes rows within this many blocks of the head; very
	// recent rows may be mid-reorg and temporarily inconsistent.
	BeforeSequence int64
	// MaxRows caps one sweep as a safety valve.
	MaxRows int
	// Queues is the number of parallel repair queues. The spread only bounds
	// worst-case serial repair latency; ordering between queues carries no
	// correctness meaning.
	Queues int
}

func (c Config) withDefaults() Config {
	if c.BeforeSequence <= 0 {
		c.BeforeSequence = 100
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 50_000
	}
	if c.Queues <= 0 {
		c.Queues = 4
	}
	return c
}

// Repairer fixes a single mismatched row. Implemented by the ledger engine;
// repair shares the engine's transactional write path rather than a separate
// one, which keeps normal and repair writes from diverging.
type Repairer interface {
	RepairRow(ctx context.Context, row domain.LedgerRow) error
}

// Reconciler detects and repairs drift between ledger rows and the
// authoritative block table after missed or out-of-order updates.
type Reconciler struct {
	repo     storage.ReconcileRepository
	repairer Repairer
	cfg      Config
	log      *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(
	repo storage.ReconcileRepository,
	repairer Repairer,
	cfg Config,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:     repo,
		repairer: repairer,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	Found    int
	Repaired int
}

// Sweep scans every ledger for mismatched rows and repairs them across the
// configured repair queues.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var errs []error
	for _, ledger := range domain.LedgerKinds() {
		found, repaired, err := r.sweepLedger(ctx, ledger)
		result.Found += found
		result.Repaired += repaired
		if err != nil {
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

func (r *Reconciler) sweepLedger(
	ctx context.Context,
	ledger domain.LedgerKind,
) (found, repaired int, err error) {
	cutoff, ok, err := r.cutoff(ctx, ledger)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, nil
	}

	rows, err := r.repo.FindMismatches(ctx, ledger, cutoff, r.cfg.MaxRows)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	metrics.MismatchesFound.WithLabelValues(string(ledger)).Add(float64(len(rows)))
	r.log.Info("found mismatched ledger rows",
		"ledger", ledger, "count", len(rows), "cutoff", cutoff)

	// Round-robin assignment across repair queues.
	queues := make([][]domain.LedgerRow, r.cfg.Queues)
	for i, row := range rows {
		q := i % r.cfg.Queues
		queues[q] = append(queues[q], row)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, queue := range queues {
		if len(queue) == 0 {
			continue
		}
		wg.Add(1)
		go func(queue []domain.LedgerRow) {
			defer wg.Done()
			for _, row := range queue {
				if ctx.Err() != nil {
					return
				}
				if err := r.repairer.RepairRow(ctx, row); err != nil {
					r.log.Error("failed to repair ledger row",
						"ledger", ledger, "row", row.ID, "error", err)
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					continue
				}
				metrics.MismatchesRepaired.WithLabelValues(string(ledger)).Inc()
				mu.Lock()
				repaired++
				mu.Unlock()
			}
		}(queue)
	}
	wg.Wait()

	return len(rows), repaired, errors.Join(errs...)
}

// MismatchCount reports how many rows at or below head-beforeSequence
// currently disagree with the block table.
func (r *Reconciler) MismatchCount(
	ctx context.Context,
	ledger domain.LedgerKind,
	beforeSequence int64,
) (int64, error) {
	if beforeSequence <= 0 {
		beforeSequence = r.cfg.BeforeSequence
	}
	head, ok, err := r.repo.HeadSequence(ctx, ledger)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return r.repo.CountMismatches(ctx, ledger, head-beforeSequence)
}

func (r *Reconciler) cutoff(
	ctx context.Context,
	ledger domain.LedgerKind,
) (int64, bool, error) {
	head, ok, err := r.repo.HeadSequence(ctx, ledger)
	if err != nil || !ok {
		return 0, false, err
	}
	return head - r.cfg.BeforeSequence, true, nil
}
