package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/transcript"
	"google.golang.org/genai"
)

// GeminiRepairer fixes malformed transcript JSON with a single model call.
type GeminiRepairer struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

func NewGeminiRepairer(client *genai.Client, model string, log zerolog.Logger) *GeminiRepairer {
	return &GeminiRepairer{
		client: client,
		model:  model,
		log:    log.With().Str("component", "repair").Logger(),
	}
}

func (r *GeminiRepairer) Repair(ctx context.Context, raw string) ([]transcript.Segment, error) {
	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(repairPrompt+raw), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   segmentSchema,
	})
	if err != nil {
		return nil, convertError(err)
	}
	if resp == nil {
		return nil, errors.New("empty repair response")
	}
	segs, err := transcript.Parse([]byte(resp.Text()))
	if err != nil {
		return nil, fmt.Errorf("repaired text is still invalid: %w", err)
	}
	r.log.Debug().Int("segments", len(segs)).Int("input_bytes", len(raw)).Msg("transcript repaired")
	return segs, nil
}
