package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usageRows(id int64, sessionID, totalCost string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "session_id", "account_id", "site_id", "application_id",
		"player_count", "unit_price", "total_cost", "auth_token", "created_at",
	}).AddRow(id, sessionID, 1, 3, 9, 5, "10.00", totalCost, "tok-original", time.Now())
}

func applicationRows(name, price string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "price_per_player", "is_active"}).
		AddRow(9, name, price, active)
}

func TestBillingService_Authorize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewBillingService(db)
	ctx := context.Background()

	params := AuthorizeParams{
		SessionID:     "sess-100",
		AccountID:     1,
		SiteID:        3,
		ApplicationID: 9,
		PlayerCount:   5,
	}

	t.Run("debits balance and issues a token", func(t *testing.T) {
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("500.00"))
		mock.ExpectQuery("FROM applications").
			WithArgs(int64(9)).
			WillReturnRows(applicationRows("Laser Maze", "10.00", true))

		// Engine transaction: pre-lock probe, row lock, post-lock probe,
		// entry, balance, usage record.
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("500.00"))
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs(int64(1), "consumption", "-50.00", "500.00", "450.00",
				"Laser Maze - 5 players", "usage_record", "sess-100").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(31, time.Now()))
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs("450.00", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO usage_records").
			WithArgs("sess-100", int64(1), int64(3), int64(9), 5, "10.00", "50.00", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(77, time.Now()))
		mock.ExpectCommit()

		record, err := service.Authorize(ctx, params)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, int64(77), record.ID)
		assert.True(t, record.TotalCost.Equal(dec("50.00")))
		assert.NotEmpty(t, record.AuthToken)
	})

	t.Run("replay returns the original record without touching the account", func(t *testing.T) {
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnRows(usageRows(77, "sess-100", "50.00"))

		record, err := service.Authorize(ctx, params)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, int64(77), record.ID)
		assert.Equal(t, "tok-original", record.AuthToken)
	})

	t.Run("concurrent duplicate yields the winner's record", func(t *testing.T) {
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("500.00"))
		mock.ExpectQuery("FROM applications").
			WithArgs(int64(9)).
			WillReturnRows(applicationRows("Laser Maze", "10.00", true))
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("450.00"))
		// The concurrent winner's record is visible under the lock.
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
		mock.ExpectRollback()
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnRows(usageRows(77, "sess-100", "50.00"))

		record, err := service.Authorize(ctx, params)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, int64(77), record.ID)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("49.99"))
		mock.ExpectQuery("FROM applications").
			WithArgs(int64(9)).
			WillReturnRows(applicationRows("Laser Maze", "10.00", true))
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("49.99"))
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.Authorize(ctx, params)
		var insufficient *InsufficientBalanceError
		assert.ErrorAs(t, err, &insufficient)
		assert.True(t, insufficient.Shortage.Equal(dec("0.01")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive account", func(t *testing.T) {
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "operator_id", "balance", "is_active", "is_locked", "updated_at"}).
				AddRow(1, 7, "500.00", false, false, time.Now()))

		_, err := service.Authorize(ctx, params)
		assert.ErrorIs(t, err, ErrAccountUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive application", func(t *testing.T) {
		mock.ExpectQuery("FROM usage_records").
			WithArgs("sess-100").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(accountRows("500.00"))
		mock.ExpectQuery("FROM applications").
			WithArgs(int64(9)).
			WillReturnRows(applicationRows("Laser Maze", "10.00", false))

		_, err := service.Authorize(ctx, params)
		assert.ErrorIs(t, err, ErrApplicationUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive player count", func(t *testing.T) {
		bad := params
		bad.PlayerCount = 0
		_, err := service.Authorize(ctx, bad)
		assert.Error(t, err)
	})
}

func TestSessionCost(t *testing.T) {
	cases := []struct {
		price   string
		players int
		want    string
	}{
		{"10.00", 5, "50.00"},
		{"10.00", 1, "10.00"},
		{"9.99", 3, "29.97"},
		// Legacy three-decimal promotional price, rounded half-away-from-zero.
		{"0.333", 3, "1.00"},
		{"0.335", 1, "0.34"},
	}
	for _, tc := range cases {
		got := sessionCost(dec(tc.price), tc.players)
		assert.True(t, got.Equal(dec(tc.want)),
			"%s x %d: got %s, want %s", tc.price, tc.players, got.StringFixed(2), tc.want)
	}
}
