package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeTopup    TransactionType = "TOPUP"
	TransactionTypeBonus    TransactionType = "BONUS"
	TransactionTypePurchase TransactionType = "PURCHASE"
	// TransactionTypeTransfer exists in the schema but no operation
	// constructs it yet.
	TransactionTypeTransfer TransactionType = "TRANSFER"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	// TransactionStatusRolledBack is reserved; the engine never writes it.
	TransactionStatusRolledBack TransactionStatus = "ROLLED_BACK"
)

// Transaction is the header row anchoring exactly two ledger entries.
// Headers are inserted once with status COMPLETED and never updated.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	IdempotencyKey string            `json:"idempotency_key" db:"idempotency_key"`
	Type           TransactionType   `json:"type" db:"type"`
	Status         TransactionStatus `json:"status" db:"status"`
	Metadata       map[string]any    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// TransferOperation describes one ledger movement. FromWalletID may be empty
// for a pure mint, in which case only the credit entry is written.
type TransferOperation struct {
	FromWalletID string
	ToWalletID   string
	AssetTypeID  string
	Amount       decimal.Decimal
	Description  string
	Metadata     map[string]any
}

// TransactionResult is the wire shape returned to callers and cached under
// the idempotency key. Balances are decimal strings.
type TransactionResult struct {
	TransactionID string            `json:"transactionId"`
	Status        TransactionStatus `json:"status"`
	FromBalance   string            `json:"fromBalance,omitempty"`
	ToBalance     string            `json:"toBalance,omitempty"`
	Error         string            `json:"error,omitempty"`
}
