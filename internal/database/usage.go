package database

import (
	"context"
	"fmt"
	"time"

	"github.com/snarg/scribe/internal/usage"
)

func (db *DB) InsertUsage(ctx context.Context, rec usage.Record) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO usage_logs (id, created_at, file_size_bytes, model_used, duration_ms, language)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
		rec.ID, rec.CreatedAt, rec.FileSizeBytes, rec.Model, rec.DurationMs, rec.Language,
	)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

func (db *DB) SetRating(ctx context.Context, id string, rating int) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE usage_logs SET rating = $2, rated_at = now() WHERE id = $1::uuid`,
		id, rating,
	)
	if err != nil {
		return false, fmt.Errorf("set rating: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *DB) CountUsageSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM usage_logs WHERE created_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}
