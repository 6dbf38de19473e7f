package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/snarg/scribe/internal/metrics"
)

type attemptKind int

const (
	attemptSuccess attemptKind = iota
	attemptRetryable
	attemptFatal
)

// attemptResult is the outcome of generating with one model.
type attemptResult struct {
	kind   attemptKind
	stream Stream
	err    error
}

// attempt opens a stream and reads its first delta, so errors the provider
// reports only once streaming starts are classified before we commit.
func (o *Orchestrator) attempt(ctx context.Context, model string, file *RemoteFile, prompt string) attemptResult {
	stream, err := o.provider.Generate(ctx, model, file, prompt)
	if err != nil {
		return failedAttempt(err)
	}

	first, err := stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		stream.Close()
		return failedAttempt(err)
	}
	return attemptResult{
		kind:   attemptSuccess,
		stream: &peekedStream{Stream: stream, first: first, firstErr: err},
	}
}

func failedAttempt(err error) attemptResult {
	if isRetryable(err) {
		return attemptResult{kind: attemptRetryable, err: err}
	}
	return attemptResult{kind: attemptFatal, err: err}
}

// generate walks the model list in order. Only retryable failures advance to
// the next model; the first success ends the walk.
func (o *Orchestrator) generate(ctx context.Context, file *RemoteFile, prompt string) (Stream, string, error) {
	var lastErr error
	for _, model := range o.models {
		res := o.attempt(ctx, model, file, prompt)
		switch res.kind {
		case attemptSuccess:
			metrics.ModelAttemptsTotal.WithLabelValues(model, "success").Inc()
			o.log.Info().Str("model", model).Msg("generation started")
			return res.stream, model, nil
		case attemptRetryable:
			metrics.ModelAttemptsTotal.WithLabelValues(model, "retryable").Inc()
			o.log.Warn().Err(res.err).Str("model", model).Msg("model unavailable, trying next")
			lastErr = res.err
		case attemptFatal:
			metrics.ModelAttemptsTotal.WithLabelValues(model, "fatal").Inc()
			return nil, model, fmt.Errorf("generate with %s: %w", model, res.err)
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
	}
	return nil, "", fmt.Errorf("%w: %v", ErrAllModelsFailed, lastErr)
}

// peekedStream replays the delta consumed by attempt.
type peekedStream struct {
	Stream
	first    string
	firstErr error
	consumed bool
}

func (p *peekedStream) Recv() (string, error) {
	if !p.consumed {
		p.consumed = true
		return p.first, p.firstErr
	}
	return p.Stream.Recv()
}
