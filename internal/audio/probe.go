package audio

import (
	"context"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DurationProber reports the playable duration of a media file. ok is false
// when the duration could not be determined.
type DurationProber interface {
	Probe(ctx context.Context, path string) (d time.Duration, ok bool)
}

// FFprobe reads container duration with ffprobe. Every failure is reported
// as unknown rather than an error.
type FFprobe struct {
	bin     string
	timeout time.Duration
	log     zerolog.Logger

	once      sync.Once
	available bool
}

func NewFFprobe(bin string, log zerolog.Logger) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{
		bin:     bin,
		timeout: 30 * time.Second,
		log:     log.With().Str("component", "probe").Logger(),
	}
}

// Available checks once whether the ffprobe binary can be found.
func (p *FFprobe) Available() bool {
	p.once.Do(func() {
		_, err := exec.LookPath(p.bin)
		p.available = err == nil
		if !p.available {
			p.log.Warn().Str("bin", p.bin).Msg("ffprobe not found, media duration checks disabled")
		}
	})
	return p.available
}

func (p *FFprobe) Probe(ctx context.Context, path string) (time.Duration, bool) {
	if !p.Available() {
		return 0, false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		p.log.Debug().Err(err).Str("path", path).Msg("ffprobe failed")
		return 0, false
	}
	return parseSeconds(string(out))
}

// parseSeconds converts ffprobe's fractional seconds ("N/A" when unknown).
func parseSeconds(s string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)).Round(time.Millisecond), true
}

// FormatDuration renders d as H:MM:SS for user-facing messages.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return strconv.Itoa(h) + ":" + pad2(m) + ":" + pad2(s)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
