package api

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker is a dependency that can report whether it is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Mode          string            `json:"mode"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	ledger    HealthChecker
	ffprobe   func() bool
	mode      string
	version   string
	startTime time.Time
}

func NewHealthHandler(ledger HealthChecker, ffprobe func() bool, mode, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		ledger:    ledger,
		ffprobe:   ffprobe,
		mode:      mode,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports 503 when the ledger store is unreachable. A missing
// ffprobe only disables the duration ceiling, so it is reported but not fatal.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Mode:          h.mode,
		Checks:        make(map[string]string),
	}

	status := http.StatusOK
	if h.ledger != nil {
		if err := h.ledger.HealthCheck(r.Context()); err != nil {
			resp.Checks["ledger"] = "error: " + err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["ledger"] = "ok"
		}
	}
	if h.ffprobe != nil {
		if h.ffprobe() {
			resp.Checks["ffprobe"] = "ok"
		} else {
			resp.Checks["ffprobe"] = "unavailable"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	WriteJSON(w, status, resp)
}
