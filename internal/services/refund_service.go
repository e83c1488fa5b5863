package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arcadeops/backend/internal/models"
)

// RefundService handles refund applications and their review. A refund
// snapshots the balance at request time; approval debits the account for
// the actual amount, which may be lower than the snapshot but never
// higher. Approve and reject are mutually exclusive terminal transitions.
type RefundService struct {
	db     *sql.DB
	engine *LedgerEngine
}

func NewRefundService(db *sql.DB) *RefundService {
	return &RefundService{
		db:     db,
		engine: NewLedgerEngine(db),
	}
}

// Request opens a pending refund for the account's full current balance.
// A zero balance is rejected outright; there is no value in recording a
// zero-amount refund.
func (s *RefundService) Request(ctx context.Context, accountID int64, reason string) (*models.RefundRequest, error) {
	account, err := s.engine.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive || account.IsLocked {
		return nil, ErrAccountUnavailable
	}
	if !account.Balance.IsPositive() {
		return nil, ErrNothingToRefund
	}

	refund := &models.RefundRequest{
		AccountID:       accountID,
		RequestedAmount: account.Balance,
		Status:          models.RefundPending,
		Reason:          reason,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO refund_requests (account_id, requested_amount, status, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`,
		refund.AccountID, refund.RequestedAmount, refund.Status, refund.Reason,
	).Scan(&refund.ID, &refund.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund request: %w", err)
	}
	return refund, nil
}

// Approve debits the account and marks the refund approved, all in one
// transaction. actualAmount defaults to the requested snapshot when nil.
// If the operator spent money after requesting and the balance no longer
// covers the amount, the engine's InsufficientBalanceError propagates and
// the refund stays pending and reviewable; it is never silently approved
// for less.
func (s *RefundService) Approve(ctx context.Context, refundID, reviewerID int64, actualAmount *decimal.Decimal) (*models.RefundRequest, error) {
	refund, err := s.GetRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != models.RefundPending {
		return nil, ErrInvalidRefundStatus
	}

	amount := refund.RequestedAmount
	if actualAmount != nil {
		if !actualAmount.IsPositive() || actualAmount.GreaterThan(refund.RequestedAmount) {
			return nil, ErrInvalidRefundAmount
		}
		amount = actualAmount.Round(2)
	}

	_, err = s.engine.Apply(ctx, ApplyParams{
		AccountID:   refund.AccountID,
		Amount:      amount.Neg(),
		Kind:        models.EntryRefund,
		Description: fmt.Sprintf("refund request #%d approved", refund.ID),
		RefType:     "refund_request",
		RefID:       fmt.Sprintf("%d", refund.ID),
		Probe: func(ctx context.Context, q Querier) (bool, error) {
			var status string
			err := q.QueryRowContext(ctx,
				`SELECT status FROM refund_requests WHERE id = $1`, refund.ID).Scan(&status)
			if err == sql.ErrNoRows {
				return false, ErrRefundNotFound
			}
			if err != nil {
				return false, err
			}
			return status != models.RefundPending, nil
		},
		Record: func(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE refund_requests
				SET status = $2, actual_refund_amount = $3, reviewed_by = $4, reviewed_at = NOW()
				WHERE id = $1 AND status = $5`,
				refund.ID, models.RefundApproved, amount, reviewerID, models.RefundPending)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n != 1 {
				return fmt.Errorf("refund %d left pending state mid-approval", refund.ID)
			}
			return nil
		},
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		// Another reviewer got there first; this approval did nothing.
		return nil, ErrInvalidRefundStatus
	}
	if err != nil {
		return nil, err
	}

	return s.GetRefund(ctx, refundID)
}

// Reject closes a pending refund with no balance effect.
func (s *RefundService) Reject(ctx context.Context, refundID, reviewerID int64, note string) (*models.RefundRequest, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = $2, reviewed_by = $3, reviewed_at = NOW()
		WHERE id = $1 AND status = $4`,
		refundID, models.RefundRejected, reviewerID, models.RefundPending)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Either unknown or already terminal; look to tell the two apart.
		refund, err := s.GetRefund(ctx, refundID)
		if err != nil {
			return nil, err
		}
		if refund.Status != models.RefundPending {
			return nil, ErrInvalidRefundStatus
		}
		return nil, fmt.Errorf("refund %d rejection raced and lost", refundID)
	}
	return s.GetRefund(ctx, refundID)
}

// GetRefund fetches one refund request.
func (s *RefundService) GetRefund(ctx context.Context, refundID int64) (*models.RefundRequest, error) {
	var refund models.RefundRequest
	var actual decimal.NullDecimal
	var reviewedBy sql.NullInt64
	var reviewedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, requested_amount, status, reason, actual_refund_amount, reviewed_by, reviewed_at, created_at
		FROM refund_requests
		WHERE id = $1`, refundID).
		Scan(&refund.ID, &refund.AccountID, &refund.RequestedAmount, &refund.Status,
			&refund.Reason, &actual, &reviewedBy, &reviewedAt, &refund.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, err
	}
	if actual.Valid {
		refund.ActualRefundAmount = &actual.Decimal
	}
	if reviewedBy.Valid {
		refund.ReviewedBy = &reviewedBy.Int64
	}
	if reviewedAt.Valid {
		refund.ReviewedAt = &reviewedAt.Time
	}
	return &refund, nil
}

// ListPending returns refunds awaiting review, oldest first.
func (s *RefundService) ListPending(ctx context.Context, limit int) ([]models.RefundRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, requested_amount, status, reason, created_at
		FROM refund_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, models.RefundPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]models.RefundRequest, 0, limit)
	for rows.Next() {
		var refund models.RefundRequest
		if err := rows.Scan(&refund.ID, &refund.AccountID, &refund.RequestedAmount,
			&refund.Status, &refund.Reason, &refund.CreatedAt); err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	return refunds, rows.Err()
}
