package domain

import (
	"fmt"
	"time"
)

type OperationKind string

const (
	OperationConnected    OperationKind = "connected"
	OperationDisconnected OperationKind = "disconnected"
	OperationFork         OperationKind = "fork"
)

type LedgerKind string

const (
	LedgerDeposits         LedgerKind = "deposits"
	LedgerMaspTransactions LedgerKind = "masp_transactions"
)

// LedgerKinds lists every ledger the engine maintains.
func LedgerKinds() []LedgerKind {
	return []LedgerKind{LedgerDeposits, LedgerMaspTransactions}
}

// BlockHeader identifies the block an operation refers to.
type BlockHeader struct {
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
}

// Note is a single entry inside a transaction. For the deposits ledger the
// identity is the depositor's graffiti memo; for the MASP ledger it is the
// asset name and Kind carries the MASP operation type.
type Note struct {
	Identity string   `json:"identity"`
	Amount   int64    `json:"amount"`
	Kind     MaspKind `json:"kind,omitempty"`
}

// OperationTransaction is one transaction carried by a block operation.
type OperationTransaction struct {
	Hash  string `json:"hash"`
	Notes []Note `json:"notes"`
}

// BlockOperation is a single chain-watcher notification. It is transient and
// never persisted as-is.
type BlockOperation struct {
	Kind         OperationKind          `json:"kind"`
	Ledger       LedgerKind             `json:"ledger"`
	Block        BlockHeader            `json:"block"`
	Transactions []OperationTransaction `json:"transactions"`
}

// Validate checks the operation is structurally usable. It does not reject
// FORK operations; that decision belongs to the ledger engine.
func (op BlockOperation) Validate() error {
	switch op.Kind {
	case OperationConnected, OperationDisconnected, OperationFork:
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	switch op.Ledger {
	case LedgerDeposits, LedgerMaspTransactions:
	default:
		return fmt.Errorf("unknown ledger kind %q", op.Ledger)
	}
	if op.Block.Hash == "" {
		return fmt.Errorf("operation block hash is empty")
	}
	return nil
}
