package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recharge order lifecycle. Pending orders move to success (exactly once,
// with one ledger credit) or failed (no ledger effect). Both are terminal.
const (
	OrderPending = "pending"
	OrderSuccess = "success"
	OrderFailed  = "failed"
)

// RechargeOrder is one payment attempt against an operator account.
// OrderID is the idempotency key shared with the payment provider.
type RechargeOrder struct {
	OrderID       string          `json:"order_id" db:"order_id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	Status        string          `json:"status" db:"status"`
	ProviderTxnID string          `json:"provider_txn_id,omitempty" db:"provider_txn_id"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason"`
	ExpiresAt     time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}
