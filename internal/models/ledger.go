package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// LedgerEntry is an immutable append-only DEBIT or CREDIT record for a
// wallet. RunningBalance snapshots the wallet balance after the entry.
type LedgerEntry struct {
	ID                   string          `json:"id" db:"id"`
	TransactionID        string          `json:"transaction_id" db:"transaction_id"`
	WalletID             string          `json:"wallet_id" db:"wallet_id"`
	AssetTypeID          string          `json:"asset_type_id" db:"asset_type_id"`
	EntryType            EntryType       `json:"entry_type" db:"entry_type"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	RunningBalance       decimal.Decimal `json:"running_balance" db:"running_balance"`
	CounterpartyWalletID string          `json:"counterparty_wallet_id,omitempty" db:"counterparty_wallet_id"`
	Description          string          `json:"description,omitempty" db:"description"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}
