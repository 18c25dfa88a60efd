package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/models"
)

type PackageRepository struct {
	db database.Querier
}

func NewPackageRepository(db database.Querier) *PackageRepository {
	return &PackageRepository{db: db}
}

const packageColumns = `id, name, COALESCE(description, ''), credits, price_minor_units, currency, is_popular, is_active,
sort_order, provider_product_id, created_at, updated_at`

// List returns packages in display order. activeOnly hides retired packages.
func (r *PackageRepository) List(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY sort_order ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var pkgs []models.CreditPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, *pkg)
	}
	return pkgs, rows.Err()
}

func (r *PackageRepository) GetByID(ctx context.Context, id string) (*models.CreditPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages WHERE id = ?`
	pkg, err := scanPackage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
INSERT INTO credit_packages (id, name, description, credits, price_minor_units, currency, is_popular, is_active, sort_order, provider_product_id, created_at, updated_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, pkg.ID, pkg.Name, pkg.Description, pkg.Credits, pkg.PriceMinorUnits, pkg.Currency,
		pkg.IsPopular, pkg.IsActive, pkg.SortOrder, pkg.ProviderProductID, pkg.CreatedAt, pkg.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	return r.GetByID(ctx, pkg.ID)
}

func (r *PackageRepository) Update(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
UPDATE credit_packages
SET name = ?, description = NULLIF(?, ''), credits = ?, price_minor_units = ?, currency = ?, is_popular = ?, is_active = ?,
    sort_order = ?, provider_product_id = ?, updated_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pkg.Name, pkg.Description, pkg.Credits, pkg.PriceMinorUnits, pkg.Currency,
		pkg.IsPopular, pkg.IsActive, pkg.SortOrder, pkg.ProviderProductID, pkg.UpdatedAt, pkg.ID); err != nil {
		return nil, fmt.Errorf("update package: %w", err)
	}
	return r.GetByID(ctx, pkg.ID)
}

func (r *PackageRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM credit_packages WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}

func scanPackage(row rowScanner) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := row.Scan(&pkg.ID, &pkg.Name, &pkg.Description, &pkg.Credits, &pkg.PriceMinorUnits, &pkg.Currency,
		&pkg.IsPopular, &pkg.IsActive, &pkg.SortOrder, &pkg.ProviderProductID, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
		return nil, err
	}
	return &pkg, nil
}
