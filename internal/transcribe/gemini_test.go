package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeGeminiAPI serves the small slice of the Gemini REST API the adapter uses.
func fakeGeminiAPI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/files/") && r.Method == http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"name":"files/abc","uri":"https://generativelanguage.googleapis.com/v1beta/files/abc","mimeType":"audio/mpeg","state":"ACTIVE"}`)

		case strings.Contains(r.URL.Path, "/files/") && r.Method == http.MethodDelete:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{}`)

		case strings.Contains(r.URL.Path, "busy-model:streamGenerateContent"):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)

		case strings.Contains(r.URL.Path, ":streamGenerateContent"):
			w.Header().Set("Content-Type", "text/event-stream")
			for _, chunk := range []string{`[{\"timestamp\":\"00:00\",`, `\"speaker\":\"A\",\"text\":\"hi\"}]`} {
				fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"%s\"}]}}]}\n\n", chunk)
			}

		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestGemini(t *testing.T, srv *httptest.Server) *Gemini {
	t.Helper()
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL + "/"},
	})
	require.NoError(t, err)
	return NewGemini(client, zerolog.Nop())
}

func TestGemini_File(t *testing.T) {
	srv := fakeGeminiAPI(t)
	defer srv.Close()
	g := newTestGemini(t, srv)

	f, err := g.File(context.Background(), "files/abc")
	require.NoError(t, err)
	assert.Equal(t, "files/abc", f.Name)
	assert.Equal(t, FileActive, f.State)
	assert.NotEmpty(t, f.URI)

	assert.NoError(t, g.DeleteFile(context.Background(), "files/abc"))
}

func TestGemini_GenerateStream(t *testing.T) {
	srv := fakeGeminiAPI(t)
	defer srv.Close()
	g := newTestGemini(t, srv)

	file := &RemoteFile{Name: "files/abc", URI: "https://example/files/abc", MIMEType: "audio/mpeg", State: FileActive}
	s, err := g.Generate(context.Background(), "good-model", file, BuildPrompt("English"))
	require.NoError(t, err)
	defer s.Close()

	var b strings.Builder
	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b.WriteString(d)
	}
	assert.Equal(t, `[{"timestamp":"00:00","speaker":"A","text":"hi"}]`, b.String())
}

func TestGemini_RateLimitedIsRetryable(t *testing.T) {
	srv := fakeGeminiAPI(t)
	defer srv.Close()
	g := newTestGemini(t, srv)

	file := &RemoteFile{Name: "files/abc", URI: "https://example/files/abc", MIMEType: "audio/mpeg", State: FileActive}
	s, err := g.Generate(context.Background(), "busy-model", file, "prompt")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Recv()
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
	assert.True(t, isRetryable(err))
}

func TestConvertError(t *testing.T) {
	err := convertError(genai.APIError{Code: 503, Message: "overloaded", Status: "UNAVAILABLE"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 503, pe.Code)
	assert.Equal(t, "UNAVAILABLE", pe.Status)

	err = convertError(fmt.Errorf("wrapped: %w", &genai.APIError{Code: 500}))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 500, pe.Code)

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, convertError(plain))
}

func TestToRemoteFile(t *testing.T) {
	tests := map[genai.FileState]FileState{
		genai.FileStateActive:      FileActive,
		genai.FileStateFailed:      FileFailed,
		genai.FileStateProcessing:  FileProcessing,
		genai.FileStateUnspecified: FileProcessing,
	}
	for in, want := range tests {
		got := toRemoteFile(&genai.File{Name: "files/x", State: in})
		assert.Equal(t, want, got.State, "state %s", in)
	}
	assert.Nil(t, toRemoteFile(nil))
}
