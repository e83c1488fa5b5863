package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arcadeops/backend/internal/models"
)

// BillingService authorizes game sessions and debits the operator account
// for them. Session authorization is safe to retry blindly: the session id
// is the idempotency key and duplicates return the original record.
type BillingService struct {
	db     *sql.DB
	engine *LedgerEngine
}

func NewBillingService(db *sql.DB) *BillingService {
	return &BillingService{
		db:     db,
		engine: NewLedgerEngine(db),
	}
}

// AuthorizeParams identifies one session authorization attempt. SessionID
// is supplied by the launching client and must be globally unique.
type AuthorizeParams struct {
	SessionID     string
	AccountID     int64
	SiteID        int64
	ApplicationID int64
	PlayerCount   int
}

// Authorize debits the account for one game session and returns the usage
// record with a fresh authorization token. Retries with the same session
// id get the original record and token back; the balance is debited once.
func (s *BillingService) Authorize(ctx context.Context, p AuthorizeParams) (*models.UsageRecord, error) {
	if p.PlayerCount <= 0 {
		return nil, fmt.Errorf("player count must be positive, got %d", p.PlayerCount)
	}

	// Fast path for replays, before touching the account.
	if existing, err := s.findBySession(ctx, s.db, p.SessionID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	account, err := s.engine.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive || account.IsLocked {
		return nil, ErrAccountUnavailable
	}

	app, err := s.getApplication(ctx, p.ApplicationID)
	if err != nil {
		return nil, err
	}

	totalCost := sessionCost(app.PricePerPlayer, p.PlayerCount)
	record := &models.UsageRecord{
		SessionID:     p.SessionID,
		AccountID:     p.AccountID,
		SiteID:        p.SiteID,
		ApplicationID: p.ApplicationID,
		PlayerCount:   p.PlayerCount,
		UnitPrice:     app.PricePerPlayer,
		TotalCost:     totalCost,
		AuthToken:     uuid.NewString(),
	}

	_, err = s.engine.Apply(ctx, ApplyParams{
		AccountID:   p.AccountID,
		Amount:      totalCost.Neg(),
		Kind:        models.EntryConsumption,
		Description: fmt.Sprintf("%s - %d players", app.Name, p.PlayerCount),
		RefType:     "usage_record",
		RefID:       p.SessionID,
		Probe: func(ctx context.Context, q Querier) (bool, error) {
			var id int64
			err := q.QueryRowContext(ctx,
				`SELECT id FROM usage_records WHERE session_id = $1`, p.SessionID).Scan(&id)
			if err == sql.ErrNoRows {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return true, nil
		},
		Record: func(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
			return tx.QueryRowContext(ctx, `
				INSERT INTO usage_records (session_id, account_id, site_id, application_id, player_count, unit_price, total_cost, auth_token, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
				RETURNING id, created_at`,
				record.SessionID, record.AccountID, record.SiteID, record.ApplicationID,
				record.PlayerCount, record.UnitPrice, record.TotalCost, record.AuthToken,
			).Scan(&record.ID, &record.CreatedAt)
		},
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		// Lost the race to a concurrent caller with the same session id.
		// Return their record so every retry observes the same outcome.
		existing, ferr := s.findBySession(ctx, s.db, p.SessionID)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("session %s marked processed but record missing", p.SessionID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetUsage returns a usage record by session id, or ErrRecordNotFound-style
// sql.ErrNoRows wrapped for the caller.
func (s *BillingService) GetUsage(ctx context.Context, sessionID string) (*models.UsageRecord, error) {
	record, err := s.findBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, sql.ErrNoRows
	}
	return record, nil
}

// SiteOwnedBy reports whether the site belongs to the operator. The HTTP
// layer calls this before Authorize; the engine itself does not check it.
func (s *BillingService) SiteOwnedBy(ctx context.Context, siteID, operatorID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sites WHERE id = $1 AND operator_id = $2`, siteID, operatorID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AppAuthorizedFor reports whether the operator's plan includes the
// application. Like SiteOwnedBy, this is the HTTP layer's check.
func (s *BillingService) AppAuthorizedFor(ctx context.Context, applicationID, operatorID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT application_id FROM operator_applications WHERE application_id = $1 AND operator_id = $2`,
		applicationID, operatorID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BillingService) findBySession(ctx context.Context, q Querier, sessionID string) (*models.UsageRecord, error) {
	var record models.UsageRecord
	err := q.QueryRowContext(ctx, `
		SELECT id, session_id, account_id, site_id, application_id, player_count, unit_price, total_cost, auth_token, created_at
		FROM usage_records
		WHERE session_id = $1`, sessionID).
		Scan(&record.ID, &record.SessionID, &record.AccountID, &record.SiteID,
			&record.ApplicationID, &record.PlayerCount, &record.UnitPrice,
			&record.TotalCost, &record.AuthToken, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BillingService) getApplication(ctx context.Context, appID int64) (*models.Application, error) {
	var app models.Application
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, price_per_player, is_active FROM applications WHERE id = $1`, appID).
		Scan(&app.ID, &app.Name, &app.PricePerPlayer, &app.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationUnavailable
	}
	if err != nil {
		return nil, err
	}
	if !app.IsActive {
		return nil, ErrApplicationUnavailable
	}
	return &app, nil
}

// sessionCost is price_per_player * player_count rounded half-away-from-zero
// to two decimals. Prices are stored with two decimals so the product is
// normally exact; the rounding rule only matters for legacy three-decimal
// promotional prices.
func sessionCost(pricePerPlayer decimal.Decimal, playerCount int) decimal.Decimal {
	return pricePerPlayer.Mul(decimal.NewFromInt(int64(playerCount))).Round(2)
}
