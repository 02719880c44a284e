package models

import (
	"time"
)

// AssetType is a currency/point class (gold, diamond, loyalty points).
// Rows are seeded once and never modified by the engine.
type AssetType struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
