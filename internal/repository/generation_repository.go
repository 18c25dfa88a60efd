package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/models"
)

type GenerationRepository struct {
	db database.Querier
}

func NewGenerationRepository(db database.Querier) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) WithTx(tx *sql.Tx) *GenerationRepository {
	return &GenerationRepository{db: tx}
}

const generationColumns = `id, user_id, prompt, aspect_ratio, image_size, status, credits_used,
COALESCE(image_url, ''), image_data, COALESCE(image_mime, ''), COALESCE(error_message, ''), COALESCE(metadata, ''), created_at, completed_at`

func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) error {
	const query = `
INSERT INTO generations (id, user_id, prompt, aspect_ratio, image_size, status, credits_used, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.UserID, g.Prompt, g.AspectRatio, g.ImageSize, g.Status, g.CreditsUsed, g.CreatedAt); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// GetByID returns the generation regardless of owner.
func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) GetForUser(ctx context.Context, userID, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ? AND user_id = ?`
	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + `
FROM generations
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	return r.queryGenerations(ctx, query, userID, limit)
}

// ListStale returns pending and processing generations created before cutoff,
// oldest first.
func (r *GenerationRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + `
FROM generations
WHERE status IN (?, ?) AND created_at < ?
ORDER BY created_at ASC, id ASC
LIMIT ?`
	return r.queryGenerations(ctx, query, models.GenerationPending, models.GenerationProcessing, cutoff, limit)
}

func (r *GenerationRepository) queryGenerations(ctx context.Context, query string, args ...any) ([]models.Generation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var gens []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		gens = append(gens, *g)
	}
	return gens, rows.Err()
}

// MarkProcessing moves a pending generation to processing.
func (r *GenerationRepository) MarkProcessing(ctx context.Context, userID, id string) (bool, error) {
	const query = `UPDATE generations SET status = ? WHERE id = ? AND user_id = ? AND status = ?`
	return r.execAffected(ctx, "mark generation processing", query, models.GenerationProcessing, id, userID, models.GenerationPending)
}

// Complete stores the result on a non-terminal generation. url and data are
// mutually exclusive; a non-empty url clears inline data.
func (r *GenerationRepository) Complete(ctx context.Context, userID, id, url string, data []byte, mime string, metadata map[string]string, at time.Time) (bool, error) {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return false, err
	}
	if url != "" {
		data = nil
	}
	const query = `
UPDATE generations
SET status = ?, image_url = NULLIF(?, ''), image_data = ?, image_mime = NULLIF(?, ''), metadata = ?, completed_at = ?
WHERE id = ? AND user_id = ? AND status IN (?, ?)`
	return r.execAffected(ctx, "complete generation", query,
		models.GenerationCompleted, url, data, mime, meta, at,
		id, userID, models.GenerationPending, models.GenerationProcessing)
}

// Fail marks a non-terminal generation failed. It reports false when the row
// was already terminal, so callers can skip the refund.
func (r *GenerationRepository) Fail(ctx context.Context, userID, id, message string, at time.Time) (bool, error) {
	const query = `
UPDATE generations
SET status = ?, error_message = ?, completed_at = ?
WHERE id = ? AND user_id = ? AND status IN (?, ?)`
	return r.execAffected(ctx, "fail generation", query,
		models.GenerationFailed, message, at,
		id, userID, models.GenerationPending, models.GenerationProcessing)
}

// Delete removes a terminal generation owned by the user.
func (r *GenerationRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	const query = `DELETE FROM generations WHERE id = ? AND user_id = ? AND status IN (?, ?)`
	return r.execAffected(ctx, "delete generation", query, id, userID, models.GenerationCompleted, models.GenerationFailed)
}

func (r *GenerationRepository) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return affected > 0, nil
}

func encodeMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode generation metadata: %w", err)
	}
	return string(raw), nil
}

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var (
		g           models.Generation
		meta        string
		completedAt sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Prompt, &g.AspectRatio, &g.ImageSize, &g.Status, &g.CreditsUsed,
		&g.ImageURL, &g.ImageData, &g.ImageMime, &g.ErrorMessage, &meta, &g.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &g.Metadata); err != nil {
			return nil, fmt.Errorf("decode generation metadata: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		g.CompletedAt = &t
	}
	return &g, nil
}
