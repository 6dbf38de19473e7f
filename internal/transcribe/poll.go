package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
)

type pollState int

const (
	pollProcessing pollState = iota
	pollReady
	pollFailed
	pollTransientError
)

func stateOf(f *RemoteFile) pollState {
	switch f.State {
	case FileActive:
		return pollReady
	case FileFailed:
		return pollFailed
	default:
		return pollProcessing
	}
}

// Poller waits for an uploaded file to leave the processing state.
//
// A provider "failed" state is terminal. A transient error while asking is
// retried with exponential backoff; only consecutive transient errors count
// toward maxRetries. Time spent processing is not bounded.
type Poller struct {
	provider    Provider
	interval    time.Duration
	backoffBase time.Duration
	maxRetries  int
	sleep       func(ctx context.Context, d time.Duration) error
	log         zerolog.Logger
}

func NewPoller(p Provider, interval, backoffBase time.Duration, maxRetries int, log zerolog.Logger) *Poller {
	return &Poller{
		provider:    p,
		interval:    interval,
		backoffBase: backoffBase,
		maxRetries:  maxRetries,
		sleep:       sleepCtx,
		log:         log,
	}
}

// Wait returns the file once it is active.
func (p *Poller) Wait(ctx context.Context, file *RemoteFile) (*RemoteFile, error) {
	state := stateOf(file)
	retries := 0

	for {
		switch state {
		case pollReady:
			return file, nil
		case pollFailed:
			return nil, ErrProcessingFailed
		case pollProcessing:
			if err := p.sleep(ctx, p.interval); err != nil {
				return nil, err
			}
		case pollTransientError:
			if retries > p.maxRetries {
				return nil, ErrPollExhausted
			}
			if err := p.sleep(ctx, p.backoff(retries)); err != nil {
				return nil, err
			}
		}

		next, err := p.provider.File(ctx, file.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isTransient(err) {
				return nil, fmt.Errorf("poll file %s: %w", file.Name, err)
			}
			retries++
			state = pollTransientError
			metrics.PollRetriesTotal.Inc()
			p.log.Warn().Err(err).Str("file", file.Name).Int("retry", retries).Msg("transient error polling file state")
			continue
		}

		retries = 0
		file = next
		state = stateOf(file)
		p.log.Debug().Str("file", file.Name).Stringer("state", file.State).Msg("polled file state")
	}
}

// backoff returns base * 2^(retries-1).
func (p *Poller) backoff(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	return p.backoffBase << (retries - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
