package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/ProduktStudio/internal/models"
)

// GenerationRepository journals direct-mode generations, which the backend
// gallery never sees.
type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, record *models.GenerationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO generation_logs (id, prompt, aspect_ratio, images, credits_after, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, record.ID, record.Prompt, record.AspectRatio, record.Images, record.CreditsAfter, record.CreatedAt); err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

func (r *GenerationRepository) ListRecent(ctx context.Context, limit int) ([]models.GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, prompt, aspect_ratio, images, credits_after, created_at
FROM generation_logs
ORDER BY created_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list generation logs: %w", err)
	}
	defer rows.Close()

	records := []models.GenerationRecord{}
	for rows.Next() {
		var rec models.GenerationRecord
		if err := rows.Scan(&rec.ID, &rec.Prompt, &rec.AspectRatio, &rec.Images, &rec.CreditsAfter, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation log: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *GenerationRepository) CountForDay(ctx context.Context, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	const query = `
SELECT COUNT(*) FROM generation_logs
WHERE created_at >= ? AND created_at < ?`
	row := r.db.QueryRowContext(ctx, query, start, end)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count daily generations: %w", err)
	}
	return count, nil
}
