package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/rewarder/internal/core/domain"
)

// PointsRepo implements storage.PointsRepository using PostgreSQL.
type PointsRepo struct {
	db *DB
}

// NewPointsRepo creates a new PostgreSQL points summary repository.
func NewPointsRepo(db *DB) *PointsRepo {
	return &PointsRepo{db: db}
}

// UpsertSummary replaces the user's summary row with freshly computed rollups.
func (r *PointsRepo) UpsertSummary(ctx context.Context, s *domain.UserPointsSummary) error {
	query := `
		INSERT INTO user_points_summary (
			user_id,
			deposit_points, deposit_count, deposit_last_occurred_at,
			masp_mint_points, masp_mint_count, masp_mint_last_occurred_at,
			masp_burn_points, masp_burn_count, masp_burn_last_occurred_at,
			masp_transfer_points, masp_transfer_count, masp_transfer_last_occurred_at,
			total_points, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			deposit_points = EXCLUDED.deposit_points,
			deposit_count = EXCLUDED.deposit_count,
			deposit_last_occurred_at = EXCLUDED.deposit_last_occurred_at,
			masp_mint_points = EXCLUDED.masp_mint_points,
			masp_mint_count = EXCLUDED.masp_mint_count,
			masp_mint_last_occurred_at = EXCLUDED.masp_mint_last_occurred_at,
			masp_burn_points = EXCLUDED.masp_burn_points,
			masp_burn_count = EXCLUDED.masp_burn_count,
			masp_burn_last_occurred_at = EXCLUDED.masp_burn_last_occurred_at,
			masp_transfer_points = EXCLUDED.masp_transfer_points,
			masp_transfer_count = EXCLUDED.masp_transfer_count,
			masp_transfer_last_occurred_at = EXCLUDED.masp_transfer_last_occurred_at,
			total_points = EXCLUDED.total_points,
			updated_at = NOW()
	`

	args := []any{s.UserID}
	for _, t := range domain.EventTypes() {
		cat := s.Categories[t]
		args = append(args, cat.Points, cat.Count, nullTime(cat.LastOccurredAt))
	}
	args = append(args, s.TotalPoints)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert points summary: %w", err)
	}
	return nil
}

// GetSummary retrieves the summary row for a user. Returns nil when absent.
func (r *PointsRepo) GetSummary(
	ctx context.Context,
	userID int64,
) (*domain.UserPointsSummary, error) {
	query := `
		SELECT user_id,
			deposit_points, deposit_count, deposit_last_occurred_at,
			masp_mint_points, masp_mint_count, masp_mint_last_occurred_at,
			masp_burn_points, masp_burn_count, masp_burn_last_occurred_at,
			masp_transfer_points, masp_transfer_count, masp_transfer_last_occurred_at,
			total_points
		FROM user_points_summary
		WHERE user_id = $1
	`

	s := &domain.UserPointsSummary{
		Categories: make(map[domain.EventType]domain.CategorySummary),
	}
	cats := make([]domain.CategorySummary, len(domain.EventTypes()))
	lasts := make([]sql.NullTime, len(domain.EventTypes()))

	dest := []any{&s.UserID}
	for i := range cats {
		dest = append(dest, &cats[i].Points, &cats[i].Count, &lasts[i])
	}
	dest = append(dest, &s.TotalPoints)

	err := r.db.QueryRowContext(ctx, query, userID).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get points summary: %w", err)
	}

	for i, t := range domain.EventTypes() {
		if lasts[i].Valid {
			cats[i].LastOccurredAt = &lasts[i].Time
		}
		s.Categories[t] = cats[i]
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
