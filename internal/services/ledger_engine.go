package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arcadeops/backend/internal/models"
)

// Querier is the read surface shared by *sql.DB and *sql.Tx. Idempotency
// probes receive one or the other depending on which phase is running.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IdempotencyProbe reports whether the caller's idempotency key has
// already been processed. The engine evaluates it twice: once before
// taking any lock (cheap short-circuit for the common replay case) and
// once more while holding the account row lock, which closes the race
// where two callers pass the first check simultaneously.
type IdempotencyProbe func(ctx context.Context, q Querier) (bool, error)

// ApplyParams carries one balance mutation through the engine.
type ApplyParams struct {
	AccountID   int64
	Amount      decimal.Decimal // signed; negative debits, positive credits
	Kind        models.EntryKind
	Description string
	RefType     string
	RefID       string

	Probe IdempotencyProbe

	// Record runs inside the engine's transaction after the ledger entry
	// has been inserted and the balance updated. Callers use it to write
	// their own aggregate row (usage record, order transition, refund
	// transition) atomically with the mutation. A Record error rolls the
	// whole transaction back.
	Record func(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error
}

// LedgerEngine is the single primitive through which account balances
// change. It serializes concurrent mutations per account with a
// SELECT ... FOR UPDATE on the account row; mutations against different
// accounts run fully in parallel. No application-level locks are held.
type LedgerEngine struct {
	db *sql.DB
}

func NewLedgerEngine(db *sql.DB) *LedgerEngine {
	return &LedgerEngine{db: db}
}

// Apply atomically appends one ledger entry and moves the account balance
// by p.Amount. On any failure the transaction rolls back with no partial
// effect: there is no path that updates the balance without a matching
// entry, or vice versa.
//
// Returns ErrAlreadyProcessed when the probe finds an existing record,
// *InsufficientBalanceError when a debit would take the balance negative,
// and ErrAccountNotFound when the account row does not exist.
func (e *LedgerEngine) Apply(ctx context.Context, p ApplyParams) (*models.LedgerEntry, error) {
	if p.Probe != nil {
		done, err := p.Probe(ctx, e.db)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, ErrAlreadyProcessed
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := lockAccount(ctx, tx, p.AccountID)
	if err != nil {
		return nil, err
	}

	// Authoritative re-check under the row lock.
	if p.Probe != nil {
		done, err := p.Probe(ctx, tx)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, ErrAlreadyProcessed
		}
	}

	balanceAfter := account.Balance.Add(p.Amount)
	if p.Amount.IsNegative() && balanceAfter.IsNegative() {
		return nil, &InsufficientBalanceError{
			Current:  account.Balance,
			Required: p.Amount.Neg(),
			Shortage: balanceAfter.Neg(),
		}
	}

	entry := &models.LedgerEntry{
		AccountID:     p.AccountID,
		Kind:          p.Kind,
		Amount:        p.Amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  balanceAfter,
		Description:   p.Description,
		RefType:       p.RefType,
		RefID:         p.RefID,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (account_id, kind, amount, balance_before, balance_after, description, ref_type, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at`,
		p.AccountID, string(p.Kind), p.Amount, account.Balance, balanceAfter,
		p.Description, p.RefType, p.RefID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`,
		balanceAfter, p.AccountID)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, fmt.Errorf("balance update touched %d rows for account %d", n, p.AccountID)
	}

	if p.Record != nil {
		if err := p.Record(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// lockAccount takes the exclusive row lock that serializes all mutations
// for one account. The lock is held for the remainder of the enclosing
// transaction; no external I/O happens while it is held.
func lockAccount(ctx context.Context, tx *sql.Tx, accountID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, operator_id, balance, is_active, is_locked, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).
		Scan(&account.ID, &account.OperatorID, &account.Balance,
			&account.IsActive, &account.IsLocked, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccount reads the account without locking; services use it for the
// active/locked checks that are theirs to enforce, and for balance
// snapshots outside a mutation.
func (e *LedgerEngine) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	var account models.Account
	err := e.db.QueryRowContext(ctx, `
		SELECT id, operator_id, balance, is_active, is_locked, updated_at
		FROM accounts
		WHERE id = $1`, accountID).
		Scan(&account.ID, &account.OperatorID, &account.Balance,
			&account.IsActive, &account.IsLocked, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// AccountByOperator resolves the operator's balance account. Handlers use
// it to map the authenticated operator to the account the services mutate.
func (e *LedgerEngine) AccountByOperator(ctx context.Context, operatorID int64) (*models.Account, error) {
	var account models.Account
	err := e.db.QueryRowContext(ctx, `
		SELECT id, operator_id, balance, is_active, is_locked, updated_at
		FROM accounts
		WHERE operator_id = $1`, operatorID).
		Scan(&account.ID, &account.OperatorID, &account.Balance,
			&account.IsActive, &account.IsLocked, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListEntries returns an account's ledger history, newest first. Entries
// are immutable once committed so no locking is needed.
func (e *LedgerEngine) ListEntries(ctx context.Context, accountID int64, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, balance_before, balance_after, description, ref_type, ref_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0, limit)
	for rows.Next() {
		var entry models.LedgerEntry
		var kind string
		if err := rows.Scan(&entry.ID, &entry.AccountID, &kind, &entry.Amount,
			&entry.BalanceBefore, &entry.BalanceAfter, &entry.Description,
			&entry.RefType, &entry.RefID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Kind = models.EntryKind(kind)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
