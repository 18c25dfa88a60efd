package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/models"
)

type ProfileRepository struct {
	db database.Querier
}

func NewProfileRepository(db database.Querier) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) WithTx(tx *sql.Tx) *ProfileRepository {
	return &ProfileRepository{db: tx}
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	const query = `
SELECT id, email, full_name, avatar_url, created_at, updated_at
FROM profiles WHERE id = ?`
	var p models.Profile
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}

// Create inserts the profile. A concurrent insert surfaces as a unique violation.
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	const query = `
INSERT INTO profiles (id, email, full_name, avatar_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.Email, p.FullName, p.AvatarURL, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) Update(ctx context.Context, id, fullName, avatarURL string, at time.Time) error {
	const query = `
UPDATE profiles SET full_name = ?, avatar_url = ?, updated_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, fullName, avatarURL, at, id); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}
