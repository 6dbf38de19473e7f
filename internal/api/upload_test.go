package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/transcript"
)

var wavBytes = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), bytes.Repeat([]byte{0}, 64)...)

func TestUpload_MockEndToEnd(t *testing.T) {
	h := newHarness(t, harnessOptions{prober: fakeProber{d: 90 * time.Second, known: true}})

	rec := h.do(uploadRequest(t, "call.wav", wavBytes, map[string]string{"language": "German"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if rec.Header().Get("Cache-Control") != "no-cache" {
		t.Error("missing Cache-Control: no-cache")
	}
	id := rec.Header().Get("X-Usage-Id")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("X-Usage-Id %q is not a UUID", id)
	}

	segs, err := transcript.Parse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("body does not parse: %v\n%s", err, rec.Body.String())
	}
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(segs))
	}
	want := transcript.Segment{Timestamp: "00:15", Speaker: "Mock Speaker", Text: "End of simulation."}
	if segs[3] != want {
		t.Errorf("last segment = %+v, want %+v", segs[3], want)
	}

	row, ok := h.ledger.get(id)
	if !ok {
		t.Fatal("usage row not recorded")
	}
	if row.Model != transcribe.MockModel {
		t.Errorf("model = %q", row.Model)
	}
	if row.FileSizeBytes != int64(len(wavBytes)) {
		t.Errorf("file size = %d, want %d", row.FileSizeBytes, len(wavBytes))
	}
	if row.DurationMs == nil || *row.DurationMs != 90000 {
		t.Errorf("duration = %v", row.DurationMs)
	}
	if row.Language != "German" {
		t.Errorf("language = %q", row.Language)
	}
	if files := h.tempFiles(t); len(files) != 0 {
		t.Errorf("temp artifacts left behind: %v", files)
	}
	if got := h.remaining(t); got != 4 {
		t.Errorf("remaining = %d, want 4", got)
	}
}

func TestUpload_DefaultLanguageAndUnknownDuration(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(uploadRequest(t, "clip.mp3", wavBytes, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	row, _ := h.ledger.get(rec.Header().Get("X-Usage-Id"))
	if row.Language != "English" {
		t.Errorf("language = %q, want English", row.Language)
	}
	if row.DurationMs != nil {
		t.Errorf("duration should be unknown, got %d", *row.DurationMs)
	}
}

func TestUpload_DeclaredLengthTooLarge(t *testing.T) {
	h := newHarness(t, harnessOptions{maxBytes: 1024})

	req := uploadRequest(t, "big.wav", bytes.Repeat([]byte{1}, 4096), nil)
	rec := h.do(req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if rec.Body.String() != reasonTooLarge {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := h.remaining(t); got != 5 {
		t.Errorf("charge retained: remaining = %d, want 5", got)
	}
	if files := h.tempFiles(t); len(files) != 0 {
		t.Errorf("file written: %v", files)
	}
	if h.transcriber.calls.Load() != 0 {
		t.Error("transcriber should not be called")
	}
}

func TestUpload_StreamedBodyTooLarge(t *testing.T) {
	h := newHarness(t, harnessOptions{maxBytes: 1024})

	req := uploadRequest(t, "big.wav", bytes.Repeat([]byte{1}, 4096), nil)
	req.ContentLength = -1
	rec := h.do(req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if got := h.remaining(t); got != 5 {
		t.Errorf("remaining = %d, want 5", got)
	}
	if files := h.tempFiles(t); len(files) != 0 {
		t.Errorf("partial artifact left behind: %v", files)
	}
}

func TestUpload_NotMultipartRefunded(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	req := httptest.NewRequest("POST", "/upload", strings.NewReader(`{"file":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := h.remaining(t); got != 5 {
		t.Errorf("charge not refunded: remaining = %d", got)
	}
}

func TestUpload_MissingFileRefunded(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var buf bytes.Buffer
	buf.WriteString("--xyz\r\nContent-Disposition: form-data; name=\"language\"\r\n\r\nEnglish\r\n--xyz--\r\n")
	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rec := h.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec.Body.String() != reasonMissingFile {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := h.remaining(t); got != 5 {
		t.Errorf("remaining = %d", got)
	}
}

func TestUpload_DurationCeiling(t *testing.T) {
	h := newHarness(t, harnessOptions{prober: fakeProber{d: 3 * time.Hour, known: true}})

	rec := h.do(uploadRequest(t, "long.wav", wavBytes, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "3:00:00") {
		t.Errorf("reason should name the duration: %q", rec.Body.String())
	}
	if n := h.transcriber.calls.Load(); n != 0 {
		t.Errorf("provider reached %d times before the duration check", n)
	}
	if got := h.remaining(t); got != 5 {
		t.Errorf("remaining = %d, want 5", got)
	}
	if files := h.tempFiles(t); len(files) != 0 {
		t.Errorf("temp artifacts left behind: %v", files)
	}
}

func TestUpload_QuotaExceeded(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for i := 0; i < 5; i++ {
		rec := h.do(uploadRequest(t, "a.wav", wavBytes, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := h.do(uploadRequest(t, "a.wav", wavBytes, nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th request: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if n := h.transcriber.calls.Load(); n != 5 {
		t.Errorf("transcriber calls = %d, want 5", n)
	}

	status := h.do(httptest.NewRequest("GET", "/upload", nil))
	if status.Code != http.StatusTooManyRequests {
		t.Errorf("GET /upload: expected 429, got %d", status.Code)
	}
	if status.Body.Len() != 0 {
		t.Errorf("GET /upload 429 should have no body, got %q", status.Body.String())
	}
}

func TestUpload_ProviderFailureKeepsCharge(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"all_models_failed", transcribe.ErrAllModelsFailed, reasonBusy},
		{"poll_exhausted", fmt.Errorf("wait: %w", transcribe.ErrPollExhausted), reasonBusy},
		{"upload_failed", fmt.Errorf("%w: 500", transcribe.ErrUploadFailed), reasonProviderUpload},
		{"processing_failed", transcribe.ErrProcessingFailed, reasonProcessing},
		{"other", errors.New("boom"), reasonTranscribe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{err: tt.err})

			rec := h.do(uploadRequest(t, "a.wav", wavBytes, nil))
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rec.Code)
			}
			if rec.Body.String() != tt.reason {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.reason)
			}
			if got := h.remaining(t); got != 4 {
				t.Errorf("remaining = %d, want 4 (charged)", got)
			}
			if files := h.tempFiles(t); len(files) != 0 {
				t.Errorf("temp artifacts left behind: %v", files)
			}
		})
	}
}

func TestUpload_LedgerFailureStillStreams(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.ledger.insertErr = errors.New("disk full")

	rec := h.do(uploadRequest(t, "a.wav", wavBytes, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if id := rec.Header().Get("X-Usage-Id"); id != "" {
		t.Errorf("X-Usage-Id should be omitted, got %q", id)
	}
	if _, err := transcript.Parse(rec.Body.Bytes()); err != nil {
		t.Errorf("body does not parse: %v", err)
	}
}

func TestUpload_CrossOriginRejectedBeforeAdmission(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	req := uploadRequest(t, "a.wav", wavBytes, nil)
	req.Header.Set("Origin", "https://evil.com")
	rec := h.do(req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if got := h.remaining(t); got != 5 {
		t.Errorf("remaining = %d, want 5", got)
	}
}

func TestUploadStatus(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for i := 0; i < 2; i++ {
		rec := h.do(httptest.NewRequest("GET", "/upload", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body UploadStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if body.Remaining != 5 || body.Limit != 5 {
			t.Errorf("status = %+v, want remaining=5 limit=5", body)
		}
		if !body.ResetAt.After(time.Now()) {
			t.Errorf("reset_at %v should be in the future", body.ResetAt)
		}
	}

	h.do(uploadRequest(t, "a.wav", wavBytes, nil))

	rec := h.do(httptest.NewRequest("GET", "/upload", nil))
	var body UploadStatus
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Remaining != 4 {
		t.Errorf("remaining = %d after one upload, want 4", body.Remaining)
	}
}
