// Package relay forwards a provider text stream to an HTTP response as it
// arrives.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
)

// Source is a stream of text deltas ending in io.EOF.
type Source interface {
	Recv() (string, error)
	Close() error
}

// Relay copies deltas to clients and tracks how many streams are live.
type Relay struct {
	active atomic.Int64
	log    zerolog.Logger
}

func New(log zerolog.Logger) *Relay {
	return &Relay{log: log.With().Str("component", "relay").Logger()}
}

// ActiveStreams reports streams currently being relayed.
func (r *Relay) ActiveStreams() int {
	return int(r.active.Load())
}

// Copy writes every non-empty delta from src to w in arrival order, flushing
// after each one. It returns when src is exhausted, when writing fails, or
// when ctx is done. src must be bound to ctx so a blocked Recv returns on
// cancellation; it is always closed before Copy returns.
func (r *Relay) Copy(ctx context.Context, w http.ResponseWriter, src Source) (int64, error) {
	r.active.Add(1)
	defer r.active.Add(-1)
	defer src.Close()

	rc := http.NewResponseController(w)
	var written int64

	for {
		delta, err := src.Recv()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("read upstream: %w", err)
		}
		if delta == "" {
			continue
		}

		n, err := io.WriteString(w, delta)
		written += int64(n)
		metrics.RelayedBytesTotal.Add(float64(n))
		if err != nil {
			r.log.Debug().Err(err).Int64("written", written).Msg("client went away")
			return written, fmt.Errorf("write to client: %w", err)
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return written, fmt.Errorf("flush to client: %w", err)
		}
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
	}
}
