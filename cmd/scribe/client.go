package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/snarg/scribe/internal/transcript"
)

// client talks to a running scribe service.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

// statusError is a non-2xx response and its plain-text reason.
type statusError struct {
	Code   int
	Reason string
}

func (e *statusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Reason)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	return &statusError{Code: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
}

// upload streams the file at path as a multipart body without buffering it.
// The caller owns the returned response body.
func (c *client) upload(ctx context.Context, path, language string) (*http.Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		pw.CloseWithError(writeUploadForm(mw, f, filepath.Base(path), language))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func writeUploadForm(mw *multipart.Writer, src io.Reader, filename, language string) error {
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return err
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, src); err != nil {
		return err
	}
	return mw.Close()
}

// readTranscript drains body, feeding every chunk to the incremental scanner
// and calling progress whenever the number of complete segments changes.
func readTranscript(body io.Reader, progress func(segments int)) ([]byte, error) {
	var (
		buf  bytes.Buffer
		sc   transcript.Scanner
		last = -1
	)
	chunk := make([]byte, 4096)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if segs := sc.Feed(string(chunk[:n])); len(segs) != last {
				last = len(segs)
				if progress != nil {
					progress(last)
				}
			}
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

// remoteRepairer sends malformed transcripts to the service's /repair.
type remoteRepairer struct {
	c *client
}

func (r remoteRepairer) Repair(ctx context.Context, raw string) ([]transcript.Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.c.base+"/repair", strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := r.c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var segs []transcript.Segment
	if err := json.NewDecoder(resp.Body).Decode(&segs); err != nil {
		return nil, fmt.Errorf("decode repair response: %w", err)
	}
	return segs, nil
}

func (c *client) rate(ctx context.Context, usageID string, rating int) error {
	body, _ := json.Marshal(map[string]any{"usageId": usageID, "rating": rating})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
