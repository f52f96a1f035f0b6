package domain

import "time"

type MaspKind string

const (
	MaspMint     MaspKind = "mint"
	MaspBurn     MaspKind = "burn"
	MaspTransfer MaspKind = "transfer"
)

// Block is a row in the authoritative block table. Main marks whether the
// block is currently believed part of the canonical chain.
type Block struct {
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	Main         bool      `json:"main"`
}

// LedgerRow is a deposit or MASP transaction record derived from a block's
// notes. At most one row exists per (ledger, transaction hash, identity,
// network version); reorgs reassign the block reference instead of inserting
// a second row.
type LedgerRow struct {
	ID              int64      `json:"id"`
	Ledger          LedgerKind `json:"ledger"`
	TransactionHash string     `json:"transaction_hash"`
	BlockHash       string     `json:"block_hash"`
	BlockSequence   int64      `json:"block_sequence"`
	NetworkVersion  int        `json:"network_version"`
	Identity        string     `json:"identity"`
	Amount          int64      `json:"amount"`
	MaspKind        MaspKind   `json:"masp_kind,omitempty"`
	Main            bool       `json:"main"`
}

// EventType returns the reward category the row can produce.
func (r LedgerRow) EventType() (EventType, bool) {
	switch r.Ledger {
	case LedgerDeposits:
		return EventDeposit, true
	case LedgerMaspTransactions:
		switch r.MaspKind {
		case MaspMint:
			return EventMaspMint, true
		case MaspBurn:
			return EventMaspBurn, true
		case MaspTransfer:
			return EventMaspTransfer, true
		}
	}
	return "", false
}

// HeadPointer is the last block hash a ledger has fully processed.
type HeadPointer struct {
	Ledger    LedgerKind `json:"ledger"`
	BlockHash string     `json:"block_hash"`
}
