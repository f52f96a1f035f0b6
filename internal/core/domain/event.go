package domain

import "time"

type EventType string

const (
	EventDeposit      EventType = "deposit"
	EventMaspMint     EventType = "masp_mint"
	EventMaspBurn     EventType = "masp_burn"
	EventMaspTransfer EventType = "masp_transfer"
)

// EventTypes lists every reward category in a stable order.
func EventTypes() []EventType {
	return []EventType{EventDeposit, EventMaspMint, EventMaspBurn, EventMaspTransfer}
}

// RewardEvent is a point-bearing record derived from a qualifying ledger row.
// A ledger row owns at most one event; losing chain membership retracts it.
type RewardEvent struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Type        EventType `json:"type"`
	Points      int64     `json:"points"`
	OccurredAt  time.Time `json:"occurred_at"`
	LedgerRowID int64     `json:"ledger_row_id"`
}
