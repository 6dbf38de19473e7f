package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/ingest"
)

// Request is one transcription job. The orchestrator takes ownership of the
// artifact and removes it once the provider upload has concluded.
type Request struct {
	Artifact *ingest.Artifact
	Language string
}

// Result is a live transcript stream and the model producing it.
type Result struct {
	Stream Stream
	Model  string
}

// Transcriber turns an uploaded artifact into a transcript stream.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	Provider        Provider
	Models          []string
	PollInterval    time.Duration
	PollBackoffBase time.Duration
	PollMaxRetries  int
	Log             zerolog.Logger
}

// Orchestrator drives upload, readiness polling, and model fallback against
// a Provider.
type Orchestrator struct {
	provider Provider
	models   []string
	poller   *Poller
	log      zerolog.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Log.With().Str("component", "orchestrator").Logger()
	return &Orchestrator{
		provider: opts.Provider,
		models:   opts.Models,
		poller:   NewPoller(opts.Provider, opts.PollInterval, opts.PollBackoffBase, opts.PollMaxRetries, log),
		log:      log,
	}
}

func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (*Result, error) {
	a := req.Artifact
	start := time.Now()

	file, err := o.provider.Upload(ctx, a.Path, a.MIMEType)
	if rerr := a.Remove(); rerr != nil {
		o.log.Warn().Err(rerr).Str("path", a.Path).Msg("failed to remove upload artifact")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if file == nil || file.Name == "" {
		return nil, ErrMissingLocator
	}
	o.log.Debug().
		Str("file", file.Name).
		Int64("size", a.Size).
		Dur("upload_ms", time.Since(start)).
		Msg("uploaded to provider")

	uploaded := file
	file, err = o.poller.Wait(ctx, uploaded)
	if err != nil {
		o.deleteRemote(uploaded)
		return nil, err
	}
	if file.URI == "" {
		o.deleteRemote(file)
		return nil, ErrMissingLocator
	}

	stream, model, err := o.generate(ctx, file, BuildPrompt(req.Language))
	if err != nil {
		o.deleteRemote(file)
		return nil, err
	}

	return &Result{
		Stream: &cleanupStream{Stream: stream, cleanup: func() { o.deleteRemote(file) }},
		Model:  model,
	}, nil
}

// deleteRemote removes the provider copy. It runs detached from the request
// context, which may already be cancelled.
func (o *Orchestrator) deleteRemote(file *RemoteFile) {
	if file == nil || file.Name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.provider.DeleteFile(ctx, file.Name); err != nil {
		o.log.Warn().Err(err).Str("file", file.Name).Msg("failed to delete remote file")
	}
}

// cleanupStream runs cleanup exactly once when closed.
type cleanupStream struct {
	Stream
	cleanup func()
	once    sync.Once
}

func (c *cleanupStream) Close() error {
	err := c.Stream.Close()
	c.once.Do(c.cleanup)
	return err
}

// IsProviderExhausted reports whether err is a retry budget running out
// rather than a single failure.
func IsProviderExhausted(err error) bool {
	return errors.Is(err, ErrPollExhausted) || errors.Is(err, ErrAllModelsFailed)
}
