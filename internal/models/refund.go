package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RefundPending  = "pending"
	RefundApproved = "approved"
	RefundRejected = "rejected"
)

// RefundRequest is one refund application. RequestedAmount snapshots the
// account balance at request time; ActualRefundAmount is set on approval
// and can be lower but never higher. Approved and rejected are terminal.
type RefundRequest struct {
	ID                 int64            `json:"id" db:"id"`
	AccountID          int64            `json:"account_id" db:"account_id"`
	RequestedAmount    decimal.Decimal  `json:"requested_amount" db:"requested_amount"`
	Status             string           `json:"status" db:"status"`
	Reason             string           `json:"reason" db:"reason"`
	ActualRefundAmount *decimal.Decimal `json:"actual_refund_amount,omitempty" db:"actual_refund_amount"`
	ReviewedBy         *int64           `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt         *time.Time       `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
}
