package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a balance mutation.
type EntryKind string

const (
	EntryConsumption EntryKind = "consumption" // session billing debit
	EntryRecharge    EntryKind = "recharge"    // payment provider credit
	EntryRefund      EntryKind = "refund"      // refund approval debit
)

// LedgerEntry is one immutable balance mutation. Amount is signed:
// negative for debits, positive for credits. BalanceBefore/BalanceAfter
// are captured under the account row lock in the same transaction that
// updates the balance, so BalanceAfter == BalanceBefore + Amount always
// holds for committed rows.
type LedgerEntry struct {
	ID            int64           `json:"id" db:"id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	Kind          EntryKind       `json:"kind" db:"kind"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Description   string          `json:"description" db:"description"`
	RefType       string          `json:"ref_type,omitempty" db:"ref_type"`
	RefID         string          `json:"ref_id,omitempty" db:"ref_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Account holds one operator's prepaid balance. The row is the unit of
// locking: every mutation goes through the ledger engine, which takes a
// SELECT ... FOR UPDATE on it first. Balance never goes below zero.
type Account struct {
	ID         int64           `json:"id" db:"id"`
	OperatorID int64           `json:"operator_id" db:"operator_id"`
	Balance    decimal.Decimal `json:"balance" db:"balance"`
	IsActive   bool            `json:"is_active" db:"is_active"`
	IsLocked   bool            `json:"is_locked" db:"is_locked"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
