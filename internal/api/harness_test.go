package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/admission"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/ingest"
	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/transcript"
	"github.com/snarg/scribe/internal/usage"
)

// memLedger is an in-memory usage.Store.
type memLedger struct {
	mu        sync.Mutex
	rows      map[string]usage.Record
	insertErr error
	pingErr   error
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]usage.Record)}
}

func (m *memLedger) InsertUsage(_ context.Context, rec usage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows[rec.ID] = rec
	return nil
}

func (m *memLedger) SetRating(_ context.Context, id string, rating int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	rec.Rating = &rating
	m.rows[id] = rec
	return true, nil
}

func (m *memLedger) CountUsageSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memLedger) HealthCheck(context.Context) error { return m.pingErr }

func (m *memLedger) get(id string) (usage.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

type fakeProber struct {
	d     time.Duration
	known bool
}

func (p fakeProber) Probe(context.Context, string) (time.Duration, bool) { return p.d, p.known }

// countingTranscriber records calls and delegates to next, or fails with err.
type countingTranscriber struct {
	calls atomic.Int32
	next  transcribe.Transcriber
	err   error
}

func (c *countingTranscriber) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		req.Artifact.Remove()
		return nil, c.err
	}
	return c.next.Transcribe(ctx, req)
}

// testClient is the peer host httptest.NewRequest assigns.
const testClient = "192.0.2.1"

type harness struct {
	handler     http.Handler
	gate        *admission.Gate
	ledger      *memLedger
	transcriber *countingTranscriber
	tempDir     string
}

type harnessOptions struct {
	maxBytes   int64
	prober     fakeProber
	err        error
	adminToken string
	repairer   transcript.Repairer
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.maxBytes == 0 {
		opts.maxBytes = 1 << 20
	}
	if opts.repairer == nil {
		opts.repairer = transcript.ScanRepairer{}
	}
	log := zerolog.Nop()
	tempDir := t.TempDir()

	cfg := &config.Config{
		MockMode:           true,
		MaxUploadBytes:     opts.maxBytes,
		MaxMediaDuration:   2 * time.Hour,
		RateLimit:          5,
		RateWindow:         24 * time.Hour,
		TrustedProxyHeader: "X-Forwarded-For",
		AdminToken:         opts.adminToken,
	}

	ledgerStore := newMemLedger()
	gate := admission.NewGate(admission.NewMemoryStore(), cfg.RateLimit, cfg.RateWindow, log)
	tr := &countingTranscriber{next: transcribe.NewMock(0, log), err: opts.err}

	srv := NewServer(cfg, Deps{
		Gate:        gate,
		Ingestor:    ingest.New(cfg.MaxUploadBytes, tempDir, log),
		Prober:      opts.prober,
		Transcriber: tr,
		Relay:       relay.New(log),
		Ledger:      usage.NewLedger(ledgerStore, log),
		LedgerStore: ledgerStore,
		Repairer:    opts.repairer,
		Version:     "test",
		StartTime:   time.Now(),
	}, log)

	return &harness{
		handler:     srv.Handler(),
		gate:        gate,
		ledger:      ledgerStore,
		transcriber: tr,
		tempDir:     tempDir,
	}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) remaining(t *testing.T) int {
	t.Helper()
	d, err := h.gate.Peek(context.Background(), testClient)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	return d.Remaining
}

func (h *harness) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// uploadRequest builds a multipart POST /upload with one file part.
func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var (
	noLog   = zerolog.Nop()
	noStart = time.Now()
)
