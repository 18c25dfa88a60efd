package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/models"
)

type PurchaseRepository struct {
	db database.Querier
}

func NewPurchaseRepository(db database.Querier) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

const purchaseColumns = `id, user_id, COALESCE(package_id, ''), credits_purchased, amount_paid, currency, payment_provider,
payment_status, transaction_id, COALESCE(metadata, ''), created_at, completed_at`

// Create inserts the purchase. The transaction_id column is unique, so a
// replayed webhook fails here with a unique violation.
func (r *PurchaseRepository) Create(ctx context.Context, p *models.Purchase) error {
	const query = `
INSERT INTO purchases (id, user_id, package_id, credits_purchased, amount_paid, currency, payment_provider, payment_status, transaction_id, metadata, created_at, completed_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.UserID, p.PackageID, p.CreditsPurchased, p.AmountPaid.StringFixed(2), p.Currency,
		p.Provider, p.Status, p.TransactionID, p.Metadata, p.CreatedAt, p.CompletedAt); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (r *PurchaseRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE transaction_id = ? LIMIT 1`
	p, err := scanPurchase(r.db.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	return p, nil
}

func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = ?`
	p, err := scanPurchase(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

func (r *PurchaseRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + `
FROM purchases
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var (
		p           models.Purchase
		completedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.PackageID, &p.CreditsPurchased, &p.AmountPaid, &p.Currency, &p.Provider,
		&p.Status, &p.TransactionID, &p.Metadata, &p.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}
