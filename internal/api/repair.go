package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scribe/internal/transcript"
)

const maxRepairBytes = 1 << 20

// RepairHandler turns a raw, possibly malformed transcript into a segment
// array.
type RepairHandler struct {
	repairer transcript.Repairer
}

func NewRepairHandler(repairer transcript.Repairer) *RepairHandler {
	return &RepairHandler{repairer: repairer}
}

func (h *RepairHandler) Routes(r chi.Router) {
	r.Post("/repair", h.Repair)
}

// Repair handles POST /repair. Text that already parses is returned without
// calling the repairer.
func (h *RepairHandler) Repair(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRepairBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeReason(w, http.StatusRequestEntityTooLarge, reasonTooLarge)
			return
		}
		writeReason(w, http.StatusBadRequest, reasonMalformed)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeReason(w, http.StatusBadRequest, "Transcript text is required.")
		return
	}

	segs, err := transcript.Resolve(r.Context(), body, h.repairer)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int("bytes", len(body)).Msg("transcript repair failed")
		writeReason(w, http.StatusBadGateway, reasonRepair)
		return
	}
	WriteJSON(w, http.StatusOK, segs)
}
