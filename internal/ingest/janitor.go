package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Janitor removes upload artifacts orphaned by a crash or kill. Live
// requests delete their own artifacts, so anything older than maxAge under
// the temp dir is garbage.
type Janitor struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

func NewJanitor(tempDir string, maxAge time.Duration, log zerolog.Logger) *Janitor {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Janitor{
		dir:      tempDir,
		maxAge:   maxAge,
		interval: 1 * time.Hour,
		now:      time.Now,
		log:      log.With().Str("component", "janitor").Logger(),
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	if j.maxAge <= 0 {
		return
	}
	go j.loop()
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *Janitor) loop() {
	// Startup pass clears whatever the previous process left behind.
	j.Sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.Sweep()
		case <-j.stop:
			return
		}
	}
}

// Sweep deletes artifacts older than maxAge and returns how many it removed.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.log.Warn().Err(err).Str("dir", j.dir).Msg("cannot read temp dir")
		return 0
	}

	cutoff := j.now().Add(-j.maxAge)
	var removed int
	var freed int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), artifactPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err == nil {
			removed++
			freed += info.Size()
		}
	}

	if removed > 0 {
		j.log.Info().
			Int("removed", removed).
			Str("freed", humanizeBytes(freed)).
			Msg("orphaned upload artifacts removed")
	}
	return removed
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
