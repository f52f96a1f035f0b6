package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/rewarder/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL reward event repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// CategorySummary computes the rollup for one user and category directly from
// the event table.
func (r *EventRepo) CategorySummary(
	ctx context.Context,
	userID int64,
	t domain.EventType,
) (domain.CategorySummary, error) {
	query := `
		SELECT COALESCE(SUM(points), 0), COUNT(*), MAX(occurred_at)
		FROM reward_events
		WHERE user_id = $1 AND type = $2
	`
	var s domain.CategorySummary
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, query, userID, string(t)).
		Scan(&s.Points, &s.Count, &last)
	if err != nil {
		return domain.CategorySummary{}, fmt.Errorf("failed to summarize events: %w", err)
	}
	if last.Valid {
		s.LastOccurredAt = &last.Time
	}
	return s, nil
}
