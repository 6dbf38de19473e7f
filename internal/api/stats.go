package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scribe/internal/usage"
)

type StatsHandler struct {
	ledger *usage.Ledger
	now    func() time.Time
}

func NewStatsHandler(ledger *usage.Ledger) *StatsHandler {
	return &StatsHandler{ledger: ledger, now: time.Now}
}

type StatsResponse struct {
	Requests24h int `json:"requests_24h"`
}

// GetStats returns how many transcriptions were served in the last 24 hours.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.CountSince(r.Context(), h.now().Add(-24*time.Hour))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("stats query failed")
		WriteError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	WriteJSON(w, http.StatusOK, StatsResponse{Requests24h: n})
}

func (h *StatsHandler) Routes(r chi.Router) {
	r.Get("/stats", h.GetStats)
}
