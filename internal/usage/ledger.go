// Package usage records one ledger row per streamed transcription and the
// optional quality rating clients attach later.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
)

var (
	ErrNotFound      = errors.New("usage record not found")
	ErrInvalidRating = errors.New("rating must be 1 or -1")
	ErrInvalidID     = errors.New("usage id must be a UUID")
)

// Record is one append-only ledger row. DurationMs is nil when the media
// duration could not be determined.
type Record struct {
	ID            string
	CreatedAt     time.Time
	FileSizeBytes int64
	Model         string
	DurationMs    *int64
	Language      string
	Rating        *int
}

// Store persists ledger rows.
type Store interface {
	InsertUsage(ctx context.Context, rec Record) error
	// SetRating returns false when no row has the id.
	SetRating(ctx context.Context, id string, rating int) (bool, error)
	CountUsageSince(ctx context.Context, since time.Time) (int, error)
}

type Ledger struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewLedger(store Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		log:   log.With().Str("component", "ledger").Logger(),
	}
}

// Entry describes a completed request.
type Entry struct {
	FileSizeBytes int64
	Model         string
	Duration      time.Duration
	DurationKnown bool
	Language      string
}

// Record appends a row for e and returns its id. A store failure is logged
// and swallowed; ok is false and the id must not be handed out.
func (l *Ledger) Record(ctx context.Context, e Entry) (id string, ok bool) {
	rec := Record{
		ID:            uuid.NewString(),
		CreatedAt:     l.now().UTC(),
		FileSizeBytes: e.FileSizeBytes,
		Model:         e.Model,
		Language:      e.Language,
	}
	if e.DurationKnown {
		ms := e.Duration.Milliseconds()
		rec.DurationMs = &ms
	}

	if err := l.store.InsertUsage(ctx, rec); err != nil {
		metrics.LedgerFailuresTotal.WithLabelValues("insert").Inc()
		l.log.Error().Err(err).Str("model", e.Model).Int64("size", e.FileSizeBytes).Msg("failed to record usage")
		return "", false
	}
	l.log.Debug().Str("id", rec.ID).Str("model", rec.Model).Msg("usage recorded")
	return rec.ID, true
}

// Rate attaches a +1/-1 quality signal to an existing row.
func (l *Ledger) Rate(ctx context.Context, id string, rating int) error {
	if rating != 1 && rating != -1 {
		return ErrInvalidRating
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	found, err := l.store.SetRating(ctx, id, rating)
	if err != nil {
		metrics.LedgerFailuresTotal.WithLabelValues("rate").Inc()
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// CountSince returns how many rows were recorded at or after since.
func (l *Ledger) CountSince(ctx context.Context, since time.Time) (int, error) {
	return l.store.CountUsageSince(ctx, since.UTC())
}
