package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/ids"
	"github.com/digkill/InfographicAI/internal/models"
)

// LedgerRepository owns the credits table and its append-only transaction log.
// Balance mutations must go through Apply on a repository bound to a transaction.
type LedgerRepository struct {
	db database.Querier
}

func NewLedgerRepository(db database.Querier) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) WithTx(tx *sql.Tx) *LedgerRepository {
	return &LedgerRepository{db: tx}
}

// Entry describes one balance mutation. Amount is signed: negative debits.
type Entry struct {
	UserID        string
	Amount        int
	Type          models.TransactionType
	ReferenceID   string
	ReferenceType string
	Description   string
}

func (r *LedgerRepository) GetAccount(ctx context.Context, userID string) (*models.LedgerAccount, error) {
	const query = `
SELECT user_id, balance, lifetime_credits, created_at, updated_at
FROM credits WHERE user_id = ?`
	var a models.LedgerAccount
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&a.UserID, &a.Balance, &a.LifetimeCredits, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan credits: %w", err)
	}
	return &a, nil
}

// CreateAccount inserts the account row. A duplicate surfaces as a unique violation.
func (r *LedgerRepository) CreateAccount(ctx context.Context, userID string, balance, lifetime int, at time.Time) error {
	const query = `
INSERT INTO credits (user_id, balance, lifetime_credits, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, balance, lifetime, at, at); err != nil {
		return fmt.Errorf("insert credits: %w", err)
	}
	return nil
}

// Apply changes the balance and appends the matching transaction record. Debits
// are conditional on the current balance; nothing is written when they fail.
// A second record for the same (user, type, reference) fails with ErrConflict,
// leaving the caller to roll back.
func (r *LedgerRepository) Apply(ctx context.Context, e Entry, at time.Time) (*models.Transaction, error) {
	var (
		res sql.Result
		err error
	)
	if e.Amount < 0 {
		const debit = `
UPDATE credits SET balance = balance - ?, updated_at = ?
WHERE user_id = ? AND balance >= ?`
		res, err = r.db.ExecContext(ctx, debit, -e.Amount, at, e.UserID, -e.Amount)
	} else {
		lifetime := 0
		if e.Type.Grant() {
			lifetime = e.Amount
		}
		const credit = `
UPDATE credits SET balance = balance + ?, lifetime_credits = lifetime_credits + ?, updated_at = ?
WHERE user_id = ?`
		res, err = r.db.ExecContext(ctx, credit, e.Amount, lifetime, at, e.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("balance rows affected: %w", err)
	}
	if affected == 0 {
		account, err := r.GetAccount(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("credit account %s: %w", e.UserID, models.ErrNotFound)
		}
		return nil, models.ErrInsufficientCredits
	}

	var balance int
	if err := r.db.QueryRowContext(ctx, `SELECT balance FROM credits WHERE user_id = ?`, e.UserID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	txn := &models.Transaction{
		ID:            ids.New(ids.Transaction),
		UserID:        e.UserID,
		Amount:        e.Amount,
		Type:          e.Type,
		BalanceAfter:  balance,
		ReferenceID:   e.ReferenceID,
		ReferenceType: e.ReferenceType,
		Description:   e.Description,
		CreatedAt:     at,
	}
	if err := r.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// InsertTransaction appends a record to the log without touching the balance.
// Only bootstrap uses it directly, for the record matching the seeded balance.
func (r *LedgerRepository) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	const query = `
INSERT INTO credit_transactions (id, user_id, amount, type, balance_after, reference_id, reference_type, description, created_at)
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	res, err := r.db.ExecContext(ctx, query, txn.ID, txn.UserID, txn.Amount, txn.Type, txn.BalanceAfter, txn.ReferenceID, txn.ReferenceType, txn.Description, txn.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%s for %s %s already recorded: %w", txn.Type, txn.ReferenceType, txn.ReferenceID, models.ErrConflict)
		}
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		txn.Seq = seq
	}
	return nil
}

func (r *LedgerRepository) FindByReference(ctx context.Context, userID string, typ models.TransactionType, referenceType, referenceID string) (*models.Transaction, error) {
	const query = `
SELECT seq, id, user_id, amount, type, balance_after, COALESCE(reference_id, ''), COALESCE(reference_type, ''), description, created_at
FROM credit_transactions
WHERE user_id = ? AND type = ? AND reference_type = ? AND reference_id = ?`
	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, userID, typ, referenceType, referenceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction by reference: %w", err)
	}
	return txn, nil
}

// ListTransactions returns the newest records first.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	const query = `
SELECT seq, id, user_id, amount, type, balance_after, COALESCE(reference_id, ''), COALESCE(reference_type, ''), description, created_at
FROM credit_transactions
WHERE user_id = ?
ORDER BY seq DESC
LIMIT ?`
	return r.queryTransactions(ctx, query, userID, limit)
}

// History returns every record of the user in commit order.
func (r *LedgerRepository) History(ctx context.Context, userID string) ([]models.Transaction, error) {
	const query = `
SELECT seq, id, user_id, amount, type, balance_after, COALESCE(reference_id, ''), COALESCE(reference_type, ''), description, created_at
FROM credit_transactions
WHERE user_id = ?
ORDER BY seq ASC`
	return r.queryTransactions(ctx, query, userID)
}

func (r *LedgerRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	if err := row.Scan(&t.Seq, &t.ID, &t.UserID, &t.Amount, &t.Type, &t.BalanceAfter, &t.ReferenceID, &t.ReferenceType, &t.Description, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
