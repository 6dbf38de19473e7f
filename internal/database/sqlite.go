package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/usage"
)

// created_at and rated_at hold unix milliseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_logs (
    id              TEXT PRIMARY KEY,
    created_at      INTEGER NOT NULL,
    file_size_bytes INTEGER NOT NULL,
    model_used      TEXT NOT NULL,
    duration_ms     INTEGER,
    language        TEXT NOT NULL DEFAULT 'English',
    rating          INTEGER CHECK (rating IN (-1, 1)),
    rated_at        INTEGER
);
CREATE INDEX IF NOT EXISTS idx_usage_logs_created_at ON usage_logs (created_at);`

const (
	sqliteInsertUsage = `INSERT INTO usage_logs (id, created_at, file_size_bytes, model_used, duration_ms, language) VALUES (?, ?, ?, ?, ?, ?)`
	sqliteSetRating   = `UPDATE usage_logs SET rating = ?, rated_at = ? WHERE id = ?`
	sqliteCountSince  = `SELECT COUNT(*) FROM usage_logs WHERE created_at >= ?`
	sqliteGetUsage    = `SELECT id, created_at, file_size_bytes, model_used, duration_ms, language, rating FROM usage_logs WHERE id = ?`
)

// SQLiteStore is the single-file usage store used when no DATABASE_URL is
// configured.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the ledger file at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writers serialize on the file lock anyway.
	db.SetMaxOpenConns(1)

	s := NewSQLiteStore(db, log)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info().Str("path", path).Msg("usage store opened")
	return s, nil
}

func NewSQLiteStore(db *sql.DB, log zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, log: log.With().Str("component", "sqlite").Logger()}
}

func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertUsage(ctx context.Context, rec usage.Record) error {
	_, err := s.db.ExecContext(ctx, sqliteInsertUsage,
		rec.ID, rec.CreatedAt.UnixMilli(), rec.FileSizeBytes, rec.Model, rec.DurationMs, rec.Language)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetRating(ctx context.Context, id string, rating int) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqliteSetRating, rating, time.Now().UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("set rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set rating: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CountUsageSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqliteCountSince, since.UnixMilli()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// GetUsage loads one row; usage.ErrNotFound when id is unknown.
func (s *SQLiteStore) GetUsage(ctx context.Context, id string) (usage.Record, error) {
	var (
		rec       usage.Record
		createdMs int64
		duration  sql.NullInt64
		rating    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, sqliteGetUsage, id).Scan(
		&rec.ID, &createdMs, &rec.FileSizeBytes, &rec.Model, &duration, &rec.Language, &rating)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.Record{}, usage.ErrNotFound
	}
	if err != nil {
		return usage.Record{}, fmt.Errorf("get usage: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	if duration.Valid {
		rec.DurationMs = &duration.Int64
	}
	if rating.Valid {
		r := int(rating.Int64)
		rec.Rating = &r
	}
	return rec, nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
