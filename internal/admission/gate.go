// Package admission enforces the per-client fixed-window upload quota.
package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
)

// ErrQuotaExceeded is returned by Admit when the client has no remaining
// requests in its current window.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Window is a client's request count within one fixed window.
type Window struct {
	Count     int
	ExpiresAt time.Time
}

// Store holds rate windows keyed by client id.
//
// Incr must be atomic: the window is reset when expired, then the count is
// incremented only if it is below limit. Decr only decrements the window
// identified by expiresAt and never below zero.
type Store interface {
	Incr(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error)
	Decr(ctx context.Context, key string, expiresAt time.Time) error
	Get(ctx context.Context, key string, now time.Time) (Window, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Decision describes the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Ticket records a single charged admission. It can be refunded at most once,
// and only against the window it was charged to.
type Ticket struct {
	key       string
	expiresAt time.Time
	used      atomic.Bool
}

// Gate applies a fixed-window quota to client ids.
type Gate struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewGate(store Store, limit int, window time.Duration, log zerolog.Logger) *Gate {
	return &Gate{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
		log:    log.With().Str("component", "admission").Logger(),
	}
}

// Limit returns the configured per-window request limit.
func (g *Gate) Limit() int { return g.limit }

// Admit charges one request to clientID. When the client is over quota it
// returns ErrQuotaExceeded with Allowed=false and no ticket.
func (g *Gate) Admit(ctx context.Context, clientID string) (Decision, *Ticket, error) {
	w, ok, err := g.store.Incr(ctx, clientID, g.limit, g.window, g.now())
	if err != nil {
		return Decision{}, nil, err
	}

	d := Decision{
		Allowed:   ok,
		Limit:     g.limit,
		Remaining: max(g.limit-w.Count, 0),
		ResetAt:   w.ExpiresAt,
	}
	if !ok {
		metrics.AdmissionDecisionsTotal.WithLabelValues("denied").Inc()
		g.log.Debug().Str("client", clientID).Time("reset_at", w.ExpiresAt).Msg("quota exceeded")
		return d, nil, ErrQuotaExceeded
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues("allowed").Inc()
	return d, &Ticket{key: clientID, expiresAt: w.ExpiresAt}, nil
}

// Refund returns the charge recorded by t. Refunding twice, or after the
// charged window has expired, is a no-op.
func (g *Gate) Refund(ctx context.Context, t *Ticket) {
	if t == nil || !t.used.CompareAndSwap(false, true) {
		return
	}
	if !g.now().Before(t.expiresAt) {
		return
	}
	if err := g.store.Decr(ctx, t.key, t.expiresAt); err != nil {
		g.log.Warn().Err(err).Str("client", t.key).Msg("refund failed")
		return
	}
	metrics.AdmissionRefundsTotal.Inc()
}

// Peek reports the client's current standing without charging.
func (g *Gate) Peek(ctx context.Context, clientID string) (Decision, error) {
	now := g.now()
	w, err := g.store.Get(ctx, clientID, now)
	if err != nil {
		return Decision{}, err
	}
	resetAt := w.ExpiresAt
	if resetAt.IsZero() {
		resetAt = now.Add(g.window)
	}
	remaining := max(g.limit-w.Count, 0)
	return Decision{
		Allowed:   remaining > 0,
		Limit:     g.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// RunSweeper drops expired windows every interval until ctx is cancelled.
func (g *Gate) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.store.Sweep(ctx, g.now())
			if err != nil {
				g.log.Warn().Err(err).Msg("rate window sweep failed")
				continue
			}
			if n > 0 {
				g.log.Debug().Int("removed", n).Msg("swept expired rate windows")
			}
		}
	}
}
