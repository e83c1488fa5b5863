package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadeops/backend/internal/models"
)

func refundRows(id int64, requested, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "account_id", "requested_amount", "status", "reason",
		"actual_refund_amount", "reviewed_by", "reviewed_at", "created_at",
	}).AddRow(id, 1, requested, status, "closing the site", nil, nil, nil, time.Now())
}

func TestRefundService_Request(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewRefundService(db)
	ctx := context.Background()

	t.Run("snapshots the full balance", func(t *testing.T) {
		mock.ExpectQuery("FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("200.00"))
		mock.ExpectQuery("INSERT INTO refund_requests").
			WithArgs(int64(1), "200.00", "pending", "closing the site").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(8, time.Now()))

		refund, err := service.Request(ctx, 1, "closing the site")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, int64(8), refund.ID)
		assert.True(t, refund.RequestedAmount.Equal(dec("200.00")))
		assert.Equal(t, models.RefundPending, refund.Status)
	})

	t.Run("zero balance is rejected", func(t *testing.T) {
		mock.ExpectQuery("FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("0.00"))

		_, err := service.Request(ctx, 1, "closing the site")
		assert.ErrorIs(t, err, ErrNothingToRefund)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefundService_Approve(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewRefundService(db)
	ctx := context.Background()

	t.Run("debits the snapshot amount and closes the refund", func(t *testing.T) {
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(refundRows(8, "200.00", "pending"))

		mock.ExpectQuery("SELECT status FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("200.00"))
		mock.ExpectQuery("SELECT status FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs(int64(1), "refund", "-200.00", "200.00", "0.00",
				"refund request #8 approved", "refund_request", "8").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(51, time.Now()))
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs("0.00", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE refund_requests").
			WithArgs(int64(8), "approved", "200.00", int64(7), "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "account_id", "requested_amount", "status", "reason",
				"actual_refund_amount", "reviewed_by", "reviewed_at", "created_at",
			}).AddRow(8, 1, "200.00", "approved", "closing the site", "200.00", 7, time.Now(), time.Now()))

		refund, err := service.Approve(ctx, 8, 7, nil)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, models.RefundApproved, refund.Status)
		require.NotNil(t, refund.ActualRefundAmount)
		assert.True(t, refund.ActualRefundAmount.Equal(dec("200.00")))
	})

	t.Run("partial approval for less than the snapshot", func(t *testing.T) {
		partial := dec("150.00")

		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(refundRows(8, "200.00", "pending"))
		mock.ExpectQuery("SELECT status FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("200.00"))
		mock.ExpectQuery("SELECT status FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs(int64(1), "refund", "-150.00", "200.00", "50.00",
				"refund request #8 approved", "refund_request", "8").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(52, time.Now()))
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs("50.00", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE refund_requests").
			WithArgs(int64(8), "approved", "150.00", int64(7), "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "account_id", "requested_amount", "status", "reason",
				"actual_refund_amount", "reviewed_by", "reviewed_at", "created_at",
			}).AddRow(8, 1, "200.00", "approved", "closing the site", "150.00", 7, time.Now(), time.Now()))

		refund, err := service.Approve(ctx, 8, 7, &partial)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.True(t, refund.ActualRefundAmount.Equal(dec("150.00")))
	})

	t.Run("balance spent after the request leaves the refund pending", func(t *testing.T) {
		// Requested 200.00 but the operator has since spent down to 50.00.
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(refundRows(8, "200.00", "pending"))
		mock.ExpectQuery("SELECT status FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("50.00"))
		mock.ExpectQuery("SELECT status FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectRollback()

		_, err := service.Approve(ctx, 8, 7, nil)
		var insufficient *InsufficientBalanceError
		assert.ErrorAs(t, err, &insufficient)
		assert.True(t, insufficient.Current.Equal(dec("50.00")))
		assert.True(t, insufficient.Shortage.Equal(dec("150.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount above the snapshot is rejected", func(t *testing.T) {
		tooMuch := dec("250.00")
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(refundRows(8, "200.00", "pending"))

		_, err := service.Approve(ctx, 8, 7, &tooMuch)
		assert.ErrorIs(t, err, ErrInvalidRefundAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already reviewed", func(t *testing.T) {
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(refundRows(8, "200.00", "rejected"))

		_, err := service.Approve(ctx, 8, 7, nil)
		assert.ErrorIs(t, err, ErrInvalidRefundStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown refund", func(t *testing.T) {
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := service.Approve(ctx, 99, 7, nil)
		assert.ErrorIs(t, err, ErrRefundNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefundService_Reject(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewRefundService(db)
	ctx := context.Background()

	t.Run("closes a pending refund with no balance effect", func(t *testing.T) {
		mock.ExpectExec("UPDATE refund_requests").
			WithArgs(int64(8), "rejected", int64(7), "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(refundRows(8, "200.00", "rejected"))

		refund, err := service.Reject(ctx, 8, 7, "not eligible")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, models.RefundRejected, refund.Status)
	})

	t.Run("already approved", func(t *testing.T) {
		mock.ExpectExec("UPDATE refund_requests").
			WithArgs(int64(8), "rejected", int64(7), "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(8)).
			WillReturnRows(refundRows(8, "200.00", "approved"))

		_, err := service.Reject(ctx, 8, 7, "too late")
		assert.ErrorIs(t, err, ErrInvalidRefundStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown refund", func(t *testing.T) {
		mock.ExpectExec("UPDATE refund_requests").
			WithArgs(int64(99), "rejected", int64(7), "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM refund_requests").
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := service.Reject(ctx, 99, 7, "")
		assert.ErrorIs(t, err, ErrRefundNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
