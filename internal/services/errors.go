package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors, used with errors.Is. Business rejections only; anything
// else coming out of a service is an infrastructure failure.
var (
	// ErrAccountNotFound is returned when the referenced account row does
	// not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountUnavailable is returned when the account exists but is
	// deactivated or administratively locked.
	ErrAccountUnavailable = errors.New("account inactive or locked")

	// ErrAlreadyProcessed is returned by the ledger engine when the
	// post-lock idempotency probe finds an existing record for the same
	// key. Callers must respond with the original outcome, not an error.
	ErrAlreadyProcessed = errors.New("idempotency key already processed")

	// ErrOrderNotFound is returned for callbacks referencing an unknown
	// recharge order id.
	ErrOrderNotFound = errors.New("recharge order not found")

	// ErrRefundNotFound is returned when the refund request id is unknown.
	ErrRefundNotFound = errors.New("refund request not found")

	// ErrInvalidRefundStatus is returned when approve/reject is attempted
	// on a refund that is no longer pending.
	ErrInvalidRefundStatus = errors.New("refund request is not pending")

	// ErrNothingToRefund is returned when a refund is requested against a
	// zero balance.
	ErrNothingToRefund = errors.New("account balance is zero")

	// ErrInvalidRefundAmount is returned when approval names an amount
	// that is not positive or exceeds the requested snapshot.
	ErrInvalidRefundAmount = errors.New("refund amount must be positive and at most the requested amount")

	// ErrApplicationUnavailable is returned when the billed application
	// does not exist or is disabled.
	ErrApplicationUnavailable = errors.New("application not found or inactive")

	// ErrInvalidSignature is returned when a provider callback fails HMAC
	// verification.
	ErrInvalidSignature = errors.New("callback signature mismatch")
)

// InsufficientBalanceError reports a debit that would take the balance
// below zero. Nothing is written when it is returned.
type InsufficientBalanceError struct {
	Current  decimal.Decimal
	Required decimal.Decimal
	Shortage decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: current %s, required %s, short %s",
		e.Current.StringFixed(2), e.Required.StringFixed(2), e.Shortage.StringFixed(2))
}

// AmountMismatchError reports a provider callback whose paid amount does
// not equal the order amount. The order stays pending so a corrected
// callback can still be processed.
type AmountMismatchError struct {
	OrderID  string
	Expected decimal.Decimal
	Reported decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for order %s: expected %s, provider reported %s",
		e.OrderID, e.Expected.StringFixed(2), e.Reported.StringFixed(2))
}
