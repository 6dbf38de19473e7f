// Package transcript reconstructs transcript segments from the raw JSON text
// relayed by /upload, both incrementally while it streams and once complete.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Segment is one timestamped utterance.
type Segment struct {
	Timestamp string `json:"timestamp"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

// ErrRepairFailed is returned by Resolve when the buffer is not valid JSON
// and the repair transform could not fix it.
var ErrRepairFailed = errors.New("transcript repair failed")

// Repairer turns malformed transcript text into a segment list.
type Repairer interface {
	Repair(ctx context.Context, raw string) ([]Segment, error)
}

// Parse decodes a complete transcript buffer as a JSON array of segments.
// A surrounding markdown code fence is tolerated.
func Parse(buf []byte) ([]Segment, error) {
	body := stripFence(bytes.TrimSpace(buf))
	var segs []Segment
	if err := json.Unmarshal(body, &segs); err != nil {
		return nil, err
	}
	if segs == nil {
		segs = []Segment{}
	}
	return segs, nil
}

// Resolve parses buf and falls back to repair when parsing fails. A repair
// failure is returned as-is; there is no second attempt.
func Resolve(ctx context.Context, buf []byte, repair Repairer) ([]Segment, error) {
	segs, err := Parse(buf)
	if err == nil {
		return segs, nil
	}
	if repair == nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	segs, rerr := repair.Repair(ctx, string(buf))
	if rerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepairFailed, rerr)
	}
	return segs, nil
}

func stripFence(b []byte) []byte {
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	} else {
		return b
	}
	b = bytes.TrimSpace(b)
	b = bytes.TrimSuffix(b, []byte("```"))
	return bytes.TrimSpace(b)
}

// ScanRepairer salvages every complete segment object from malformed text.
// It needs no provider and is used in mock mode and by the CLI.
type ScanRepairer struct{}

func (ScanRepairer) Repair(_ context.Context, raw string) ([]Segment, error) {
	var s Scanner
	segs := s.Feed(raw)
	if len(segs) == 0 {
		return nil, errors.New("no complete segments found")
	}
	return segs, nil
}
