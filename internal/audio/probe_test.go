package audio

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{"7201.5\n", 7201500 * time.Millisecond, true},
		{"0.000000", 0, true},
		{"12.3456", 12346 * time.Millisecond, true},
		{"N/A", 0, false},
		{"", 0, false},
		{"-1", 0, false},
		{"NaN", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseSeconds(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseSeconds(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		2*time.Hour + 30*time.Minute + 5*time.Second: "2:30:05",
		59 * time.Second:                             "0:00:59",
		7201500 * time.Millisecond:                   "2:00:02",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

// writeFakeProbe installs a shell script that mimics ffprobe's output.
func writeFakeProbe(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFprobe(t *testing.T) {
	t.Run("reports_duration", func(t *testing.T) {
		p := NewFFprobe(writeFakeProbe(t, `echo 7500.25`), zerolog.Nop())
		d, ok := p.Probe(context.Background(), "/tmp/whatever.mp3")
		if !ok {
			t.Fatal("expected known duration")
		}
		if d != 7500250*time.Millisecond {
			t.Errorf("duration = %v", d)
		}
	})

	t.Run("failure_is_unknown", func(t *testing.T) {
		p := NewFFprobe(writeFakeProbe(t, `echo "Invalid data" >&2; exit 1`), zerolog.Nop())
		if _, ok := p.Probe(context.Background(), "/tmp/garbage.bin"); ok {
			t.Error("expected unknown duration on ffprobe failure")
		}
	})

	t.Run("missing_binary_is_unknown", func(t *testing.T) {
		p := NewFFprobe(filepath.Join(t.TempDir(), "no-such-ffprobe"), zerolog.Nop())
		if _, ok := p.Probe(context.Background(), "/tmp/a.wav"); ok {
			t.Error("expected unknown duration without ffprobe")
		}
	})
}
