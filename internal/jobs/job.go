package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/rewarder/internal/core/domain"
)

type Type string

const (
	TypeUpsertLedger      Type = "upsert_ledger"
	TypeRefreshUserPoints Type = "refresh_user_points"
	TypeRefreshLedger     Type = "refresh_ledger"
)

// Types lists every job type the worker consumes.
func Types() []Type {
	return []Type{TypeUpsertLedger, TypeRefreshUserPoints, TypeRefreshLedger}
}

// Job is one unit of work on the transport. Key deduplicates in-flight units;
// two enqueues with the same key collapse to one queued job.
type Job struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Key        string          `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// New builds a job with a fresh ID and a marshalled payload.
func New(t Type, key string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:         uuid.NewString(),
		Type:       t,
		Key:        key,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// UpsertLedgerPayload carries one block operation to the ledger engine.
type UpsertLedgerPayload struct {
	Operation domain.BlockOperation `json:"operation"`
}

// RefreshUserPointsPayload asks the points aggregator to recompute one
// user/category rollup.
type RefreshUserPointsPayload struct {
	UserID    int64            `json:"user_id"`
	EventType domain.EventType `json:"event_type"`
}

// RefreshLedgerPayload triggers a mismatch reconciler sweep.
type RefreshLedgerPayload struct{}
