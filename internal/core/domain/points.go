package domain

import "time"

// CategorySummary is the rollup for one reward category of one user.
type CategorySummary struct {
	Points         int64      `json:"points"`
	Count          int64      `json:"count"`
	LastOccurredAt *time.Time `json:"last_occurred_at,omitempty"`
}

// UserPointsSummary is the per-user rollup row rebuilt by the points
// aggregator from the reward event table. It is never hand-edited elsewhere.
type UserPointsSummary struct {
	UserID      int64                         `json:"user_id"`
	Categories  map[EventType]CategorySummary `json:"categories"`
	TotalPoints int64                         `json:"total_points"`
}
