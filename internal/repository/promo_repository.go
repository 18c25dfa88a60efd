package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/models"
)

var ErrPromoExhausted = errors.New("promo code exhausted")

type PromoRepository struct {
	db database.Querier
}

func NewPromoRepository(db database.Querier) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) WithTx(tx *sql.Tx) *PromoRepository {
	return &PromoRepository{db: tx}
}

// GetByCode matches codes case-insensitively; codes are stored upper-case.
func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	const query = `SELECT id, code, credits, max_uses, uses, created_at FROM promo_codes WHERE code = ?`
	promo, err := scanPromo(r.db.QueryRowContext(ctx, query, strings.ToUpper(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promo: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	const query = `SELECT id, code, credits, max_uses, uses, created_at FROM promo_codes WHERE id = ?`
	promo, err := scanPromo(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get promo by id: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) List(ctx context.Context) ([]models.PromoCode, error) {
	const query = `SELECT id, code, credits, max_uses, uses, created_at FROM promo_codes ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list promos: %w", err)
	}
	defer rows.Close()

	var promos []models.PromoCode
	for rows.Next() {
		promo, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo list: %w", err)
		}
		promos = append(promos, *promo)
	}
	return promos, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
INSERT INTO promo_codes (code, credits, max_uses, uses, created_at)
VALUES (?, ?, ?, 0, ?)`
	res, err := r.db.ExecContext(ctx, query, strings.ToUpper(promo.Code), promo.Credits, promo.MaxUses, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create promo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PromoRepository) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
UPDATE promo_codes
SET code = ?, credits = ?, max_uses = ?, uses = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, strings.ToUpper(promo.Code), promo.Credits, promo.MaxUses, promo.Uses, promo.ID); err != nil {
		return nil, fmt.Errorf("update promo: %w", err)
	}
	return r.GetByID(ctx, promo.ID)
}

func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM promo_codes WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete promo: %w", err)
	}
	return nil
}

func (r *PromoRepository) IncrementUsage(ctx context.Context, promoID int64) error {
	const query = `
UPDATE promo_codes SET uses = uses + 1
WHERE id = ? AND uses < max_uses`
	res, err := r.db.ExecContext(ctx, query, promoID)
	if err != nil {
		return fmt.Errorf("increment promo usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("promo usage rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPromoExhausted
	}
	return nil
}

// RecordRedemption fails with a unique violation when the user already redeemed the code.
func (r *PromoRepository) RecordRedemption(ctx context.Context, userID string, promoID int64, at time.Time) error {
	const query = `
INSERT INTO promo_redemptions (user_id, promo_code_id, created_at)
VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, promoID, at); err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}
	return nil
}

func scanPromo(row rowScanner) (*models.PromoCode, error) {
	var promo models.PromoCode
	if err := row.Scan(&promo.ID, &promo.Code, &promo.Credits, &promo.MaxUses, &promo.Uses, &promo.CreatedAt); err != nil {
		return nil, err
	}
	return &promo, nil
}
