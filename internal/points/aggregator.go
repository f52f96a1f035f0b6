package points

import (
	"context"
	"log/slog"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
	"github.com/vietddude/rewarder/internal/metrics"
)

// Aggregator rebuilds user points summaries from the reward event table. It
// is the sole writer of user_points_summary.
type Aggregator struct {
	users  storage.UserRepository
	events storage.EventRepository
	points storage.PointsRepository
	log    *slog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(
	users storage.UserRepository,
	events storage.EventRepository,
	points storage.PointsRepository,
	log *slog.Logger,
) *Aggregator {
	return &Aggregator{users: users, events: events, points: points, log: log}
}

// Refresh recomputes the user's rollups directly from reward events and
// upserts the summary row. This is a read-then-write, not an incremental
// counter: every category is recomputed so repeated or out-of-order
// invocations converge to the correct value no matter how many ledger runs
// touched the user in between.
func (a *Aggregator) Refresh(ctx context.Context, userID int64, t domain.EventType) error {
	user, err := a.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		// Lost users eventually disappear from future aggregations.
		a.log.Warn("points refresh for unknown user", "user", userID, "category", t)
		return nil
	}

	summary := &domain.UserPointsSummary{
		UserID:     userID,
		Categories: make(map[domain.EventType]domain.CategorySummary),
	}
	for _, category := range domain.EventTypes() {
		cat, err := a.events.CategorySummary(ctx, userID, category)
		if err != nil {
			return err
		}
		summary.Categories[category] = cat
		summary.TotalPoints += cat.Points
	}

	if err := a.points.UpsertSummary(ctx, summary); err != nil {
		return err
	}

	metrics.PointsRefreshes.Inc()
	a.log.Debug("refreshed points summary",
		"user", userID, "trigger", t, "total", summary.TotalPoints)
	return nil
}
