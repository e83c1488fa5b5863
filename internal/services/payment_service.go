package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/arcadeops/backend/internal/config"
	"github.com/arcadeops/backend/internal/models"
)

// PaymentService owns the recharge order lifecycle: pending orders are
// created with a payment QR for the provider app, and provider callbacks
// move them to success (crediting the account exactly once) or failed.
// The provider retries callbacks; replays must always see success.
type PaymentService struct {
	db     *sql.DB
	redis  *redis.Client
	engine *LedgerEngine
	config *config.PaymentConfig
}

func NewPaymentService(db *sql.DB, redisClient *redis.Client) *PaymentService {
	return &PaymentService{
		db:     db,
		redis:  redisClient,
		engine: NewLedgerEngine(db),
		config: config.LoadPaymentConfig(),
	}
}

// CallbackParams is the payload the provider posts when a payment settles
// or fails. Signature is an HMAC-SHA256 over the other fields with the
// shared provider secret.
type CallbackParams struct {
	OrderID       string
	Status        string // "success" or "failed"
	PaidAmount    decimal.Decimal
	ProviderTxnID string
	FailureReason string
	Signature     string
}

// CreateOrder opens a pending recharge order and returns it together with
// a base64 PNG payment QR. The order expires after the configured window;
// expired orders are simply never confirmed.
func (s *PaymentService) CreateOrder(ctx context.Context, accountID int64, amount decimal.Decimal, paymentMethod string) (*models.RechargeOrder, string, error) {
	if !amount.IsPositive() {
		return nil, "", fmt.Errorf("recharge amount must be positive, got %s", amount.StringFixed(2))
	}
	if amount.GreaterThan(decimal.NewFromFloat(s.config.MaxOrderAmount)) {
		return nil, "", fmt.Errorf("recharge amount %s exceeds the per-order limit", amount.StringFixed(2))
	}

	account, err := s.engine.GetAccount(ctx, accountID)
	if err != nil {
		return nil, "", err
	}
	if !account.IsActive || account.IsLocked {
		return nil, "", ErrAccountUnavailable
	}

	order := &models.RechargeOrder{
		OrderID:       uuid.NewString(),
		AccountID:     accountID,
		Amount:        amount.Round(2),
		PaymentMethod: paymentMethod,
		Status:        models.OrderPending,
		ExpiresAt:     time.Now().Add(s.config.OrderTimeout),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO recharge_orders (order_id, account_id, amount, payment_method, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`,
		order.OrderID, order.AccountID, order.Amount, order.PaymentMethod,
		order.Status, order.ExpiresAt,
	).Scan(&order.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create order: %w", err)
	}

	qrImage, err := s.generatePaymentQR(ctx, order)
	if err != nil {
		// The order is already committed; the client can re-request the QR.
		log.Printf("[PAYMENT] QR generation failed for order %s: %v", order.OrderID, err)
	}

	return order, qrImage, nil
}

// ProcessCallback handles a provider callback for an order. Repeat
// callbacks for a terminal order are an idempotent success and return the
// order as it settled the first time.
func (s *PaymentService) ProcessCallback(ctx context.Context, cb CallbackParams) (*models.RechargeOrder, error) {
	if s.config.ProviderSecret != "" {
		if !s.verifySignature(cb) {
			return nil, ErrInvalidSignature
		}
	}

	order, err := s.GetOrder(ctx, cb.OrderID)
	if err != nil {
		return nil, err
	}

	// Replayed callback: the order already settled, do not touch the balance.
	if order.Status != models.OrderPending {
		return order, nil
	}

	if cb.Status == "failed" {
		return s.failOrder(ctx, order, cb.FailureReason)
	}

	if !cb.PaidAmount.Equal(order.Amount) {
		// Leave the order pending so a corrected callback can still land.
		return nil, &AmountMismatchError{
			OrderID:  order.OrderID,
			Expected: order.Amount,
			Reported: cb.PaidAmount,
		}
	}

	_, err = s.engine.Apply(ctx, ApplyParams{
		AccountID:   order.AccountID,
		Amount:      order.Amount,
		Kind:        models.EntryRecharge,
		Description: fmt.Sprintf("recharge via %s", order.PaymentMethod),
		RefType:     "recharge_order",
		RefID:       order.OrderID,
		Probe: func(ctx context.Context, q Querier) (bool, error) {
			var status string
			err := q.QueryRowContext(ctx,
				`SELECT status FROM recharge_orders WHERE order_id = $1`, order.OrderID).Scan(&status)
			if err == sql.ErrNoRows {
				return false, ErrOrderNotFound
			}
			if err != nil {
				return false, err
			}
			return status != models.OrderPending, nil
		},
		Record: func(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE recharge_orders
				SET status = $2, provider_txn_id = $3, paid_at = NOW()
				WHERE order_id = $1 AND status = $4`,
				order.OrderID, models.OrderSuccess, cb.ProviderTxnID, models.OrderPending)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n != 1 {
				return fmt.Errorf("order %s left pending state mid-credit", order.OrderID)
			}
			return nil
		},
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		// A concurrent callback settled the order first. Same outcome.
		return s.GetOrder(ctx, cb.OrderID)
	}
	if err != nil {
		return nil, err
	}

	return s.GetOrder(ctx, cb.OrderID)
}

// GetOrder fetches a recharge order by its id.
func (s *PaymentService) GetOrder(ctx context.Context, orderID string) (*models.RechargeOrder, error) {
	var order models.RechargeOrder
	var providerTxnID, failureReason sql.NullString
	var paidAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id, account_id, amount, payment_method, status, provider_txn_id, failure_reason, expires_at, created_at, paid_at
		FROM recharge_orders
		WHERE order_id = $1`, orderID).
		Scan(&order.OrderID, &order.AccountID, &order.Amount, &order.PaymentMethod,
			&order.Status, &providerTxnID, &failureReason, &order.ExpiresAt,
			&order.CreatedAt, &paidAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	order.ProviderTxnID = providerTxnID.String
	order.FailureReason = failureReason.String
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	return &order, nil
}

func (s *PaymentService) failOrder(ctx context.Context, order *models.RechargeOrder, reason string) (*models.RechargeOrder, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recharge_orders
		SET status = $2, failure_reason = $3
		WHERE order_id = $1 AND status = $4`,
		order.OrderID, models.OrderFailed, reason, models.OrderPending)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		// Raced with another callback; whatever it decided stands.
		return s.GetOrder(ctx, order.OrderID)
	}
	order.Status = models.OrderFailed
	order.FailureReason = reason
	return order, nil
}

// generatePaymentQR encodes the order reference for the provider app and
// caches the payload in redis for the order's lifetime.
func (s *PaymentService) generatePaymentQR(ctx context.Context, order *models.RechargeOrder) (string, error) {
	payload := map[string]any{
		"orderId":   order.OrderID,
		"amount":    order.Amount.StringFixed(2),
		"method":    order.PaymentMethod,
		"expiresAt": order.ExpiresAt.Unix(),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	if s.redis != nil {
		key := fmt.Sprintf("recharge:%s", order.OrderID)
		if err := s.redis.Set(ctx, key, jsonData, s.config.OrderTimeout).Err(); err != nil {
			log.Printf("[PAYMENT] Failed to cache order payload for %s: %v", order.OrderID, err)
		}
	}

	qr, err := qrcode.New(string(jsonData), qrcode.Medium)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(s.config.QRImageSize)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *PaymentService) verifySignature(cb CallbackParams) bool {
	h := hmac.New(sha256.New, []byte(s.config.ProviderSecret))
	fmt.Fprintf(h, "%s|%s|%s|%s", cb.OrderID, cb.Status, cb.PaidAmount.StringFixed(2), cb.ProviderTxnID)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(cb.Signature))
}
