package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord is one billed game session. SessionID is externally supplied
// and unique; it is the idempotency key for session authorization. A record
// is created exactly once per session id, inside the same transaction as its
// ledger debit, and never mutated afterwards.
type UsageRecord struct {
	ID            int64           `json:"id" db:"id"`
	SessionID     string          `json:"session_id" db:"session_id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	SiteID        int64           `json:"site_id" db:"site_id"`
	ApplicationID int64           `json:"application_id" db:"application_id"`
	PlayerCount   int             `json:"player_count" db:"player_count"`
	UnitPrice     decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalCost     decimal.Decimal `json:"total_cost" db:"total_cost"`
	AuthToken     string          `json:"auth_token" db:"auth_token"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
