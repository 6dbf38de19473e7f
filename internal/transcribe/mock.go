package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/transcript"
)

// MockModel is reported as the model used in mock mode.
const MockModel = "mock"

var mockSegments = []transcript.Segment{
	{Timestamp: "00:00", Speaker: "Mock Speaker", Text: "This is a simulated transcript."},
	{Timestamp: "00:05", Speaker: "Mock Speaker", Text: "No audio was sent to a provider."},
	{Timestamp: "00:10", Speaker: "Mock Speaker", Text: "Tokens arrive at a fixed cadence."},
	{Timestamp: "00:15", Speaker: "Mock Speaker", Text: "End of simulation."},
}

const mockTokenSize = 12

// Mock skips upload, polling, and model fallback and streams a fixed
// transcript. It shares the relay and ledger path with the real mode.
type Mock struct {
	interval time.Duration
	log      zerolog.Logger
}

func NewMock(interval time.Duration, log zerolog.Logger) *Mock {
	return &Mock{
		interval: interval,
		log:      log.With().Str("component", "mock").Logger(),
	}
}

func (m *Mock) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if err := req.Artifact.Remove(); err != nil {
		m.log.Warn().Err(err).Msg("failed to remove upload artifact")
	}
	m.log.Debug().Str("language", req.Language).Msg("mock transcription started")
	return &Result{
		Stream: newMockStream(ctx, m.interval),
		Model:  MockModel,
	}, nil
}

// MockTranscript returns the full text the mock stream produces.
func MockTranscript() string {
	b, _ := json.Marshal(mockSegments)
	return string(b)
}

type mockStream struct {
	ctx      context.Context
	cancel   context.CancelFunc
	tokens   []string
	i        int
	interval time.Duration
}

// newMockStream splits the transcript into fixed-size tokens with an empty
// delta after every fourth token.
func newMockStream(ctx context.Context, interval time.Duration) *mockStream {
	text := MockTranscript()
	var tokens []string
	for i := 0; i < len(text); i += mockTokenSize {
		tokens = append(tokens, text[i:min(i+mockTokenSize, len(text))])
		if len(tokens)%5 == 4 {
			tokens = append(tokens, "")
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &mockStream{ctx: ctx, cancel: cancel, tokens: tokens, interval: interval}
}

func (s *mockStream) Recv() (string, error) {
	if s.i >= len(s.tokens) {
		return "", io.EOF
	}
	if err := sleepCtx(s.ctx, s.interval); err != nil {
		return "", err
	}
	tok := s.tokens[s.i]
	s.i++
	return tok, nil
}

func (s *mockStream) Close() error {
	s.cancel()
	return nil
}
