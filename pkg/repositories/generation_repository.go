// Package repositories provides data access for the generation ledger.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pixelsmith-dev/pixelsmith/pkg/apperrors"
	"github.com/pixelsmith-dev/pixelsmith/pkg/database"
	"github.com/pixelsmith-dev/pixelsmith/pkg/models"
)

// GenerationRepository provides data access for generation records.
type GenerationRepository interface {
	// Insert persists a new generation, assigning id and created_at, and
	// returns the full record. If parentGenerationID is set it must
	// reference an existing row at insert time.
	Insert(ctx context.Context, gen *models.Generation) (*models.Generation, error)

	// GetRecent returns up to limit generations for the user, most
	// recent first (created_at DESC, id DESC).
	GetRecent(ctx context.Context, userID string, limit int) ([]*models.Generation, error)

	// GetByID returns the generation with the given id, or
	// apperrors.ErrNotFound.
	GetByID(ctx context.Context, id int64) (*models.Generation, error)

	// Prune deletes all but the most recent keep rows for the user.
	// Pruning an already-pruned user is a no-op.
	Prune(ctx context.Context, userID string, keep int) error

	// CountInRange counts the user's rows with created_at in
	// [start, end). An empty userID counts across all users.
	CountInRange(ctx context.Context, userID string, start, end time.Time) (int, error)

	// CountByUserInRange returns per-user row counts for created_at in
	// [start, end). Users with no rows in the window are absent.
	CountByUserInRange(ctx context.Context, start, end time.Time) (map[string]int, error)

	// SumCostInRange sums cost_usd across all users for rows with
	// created_at in [start, end).
	SumCostInRange(ctx context.Context, start, end time.Time) (float64, error)
}

type generationRepository struct {
	db *database.DB
}

// NewGenerationRepository creates a Postgres-backed generation repository.
func NewGenerationRepository(db *database.DB) GenerationRepository {
	return &generationRepository{db: db}
}

var _ GenerationRepository = (*generationRepository)(nil)

func (r *generationRepository) Insert(ctx context.Context, gen *models.Generation) (*models.Generation, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The schema carries no FK (pruning may legitimately leave dangling
	// parents later), so parent existence is checked here, at insert time.
	if gen.ParentGenerationID != nil {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM generations WHERE id = $1)`,
			*gen.ParentGenerationID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check parent generation: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("parent generation %d: %w", *gen.ParentGenerationID, apperrors.ErrNotFound)
		}
	}

	inserted := *gen
	err = tx.QueryRow(ctx, `
		INSERT INTO generations (user_id, prompt, image_locator, source_type, parent_generation_id, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		gen.UserID,
		gen.Prompt,
		gen.ImageLocator,
		gen.SourceType,
		gen.ParentGenerationID,
		gen.CostUsd,
	).Scan(&inserted.ID, &inserted.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert generation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit generation insert: %w", err)
	}

	return &inserted, nil
}

func (r *generationRepository) GetRecent(ctx context.Context, userID string, limit int) ([]*models.Generation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, created_at, prompt, image_locator, source_type, parent_generation_id, cost_usd
		FROM generations
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent generations: %w", err)
	}
	defer rows.Close()

	var generations []*models.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		generations = append(generations, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read generation rows: %w", err)
	}

	return generations, nil
}

func (r *generationRepository) GetByID(ctx context.Context, id int64) (*models.Generation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, created_at, prompt, image_locator, source_type, parent_generation_id, cost_usd
		FROM generations
		WHERE id = $1`,
		id)

	gen, err := scanGeneration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func (r *generationRepository) Prune(ctx context.Context, userID string, keep int) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM generations
		WHERE user_id = $1
		  AND id NOT IN (
			SELECT id FROM generations
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		  )`,
		userID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune generations: %w", err)
	}
	return nil
}

func (r *generationRepository) CountInRange(ctx context.Context, userID string, start, end time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM generations WHERE created_at >= $1 AND created_at < $2`
	args := []any{start, end}
	if userID != "" {
		query += ` AND user_id = $3`
		args = append(args, userID)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return count, nil
}

func (r *generationRepository) CountByUserInRange(ctx context.Context, start, end time.Time) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, COUNT(*)
		FROM generations
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY user_id`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count generations by user: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan user count row: %w", err)
		}
		counts[userID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user count rows: %w", err)
	}

	return counts, nil
}

func (r *generationRepository) SumCostInRange(ctx context.Context, start, end time.Time) (float64, error) {
	var sum float64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM generations
		WHERE created_at >= $1 AND created_at < $2`,
		start, end).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum generation cost: %w", err)
	}
	return sum, nil
}

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	var gen models.Generation
	err := row.Scan(
		&gen.ID,
		&gen.UserID,
		&gen.CreatedAt,
		&gen.Prompt,
		&gen.ImageLocator,
		&gen.SourceType,
		&gen.ParentGenerationID,
		&gen.CostUsd,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan generation row: %w", err)
	}
	return &gen, nil
}
