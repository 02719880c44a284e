package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OwnerType string

const (
	OwnerTypeUser   OwnerType = "USER"
	OwnerTypeSystem OwnerType = "SYSTEM"
)

// Well-known system wallet owners. Treasury is the source of minted funds
// for top-ups; Revenue is the source of bonuses and the sink for purchases.
const (
	SystemOwnerTreasury = "TREASURY"
	SystemOwnerRevenue  = "REVENUE"
)

// Wallet is the (owner, asset) balance record, unique per
// (owner_id, owner_type, asset_type_id). Balance and version are only ever
// mutated by the double-entry writer under a version CAS.
type Wallet struct {
	ID          string          `json:"id" db:"id"`
	OwnerID     string          `json:"owner_id" db:"owner_id"`
	OwnerType   OwnerType       `json:"owner_type" db:"owner_type"`
	AssetTypeID string          `json:"asset_type_id" db:"asset_type_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Version     int64           `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// WalletStats aggregates a wallet's ledger history for the stats endpoint.
type WalletStats struct {
	WalletID         string          `json:"wallet_id"`
	AssetTypeID      string          `json:"asset_type_id"`
	Balance          decimal.Decimal `json:"balance"`
	TotalCredited    decimal.Decimal `json:"total_credited"`
	TotalDebited     decimal.Decimal `json:"total_debited"`
	TransactionCount int64           `json:"transaction_count"`
}
