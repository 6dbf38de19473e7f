package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scribe/internal/usage"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RateHandler attaches client quality ratings to usage records.
type RateHandler struct {
	ledger *usage.Ledger
}

func NewRateHandler(ledger *usage.Ledger) *RateHandler {
	return &RateHandler{ledger: ledger}
}

type rateRequest struct {
	UsageID string `json:"usageId" validate:"required,uuid"`
	Rating  int    `json:"rating" validate:"required,oneof=1 -1"`
}

func (h *RateHandler) Routes(r chi.Router) {
	r.Post("/rate", h.Rate)
}

// Rate handles POST /rate.
func (h *RateHandler) Rate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Rating" {
			WriteError(w, http.StatusBadRequest, usage.ErrInvalidRating.Error())
			return
		}
		WriteError(w, http.StatusBadRequest, usage.ErrInvalidID.Error())
		return
	}

	err := h.ledger.Rate(r.Context(), req.UsageID, req.Rating)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, usage.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, usage.ErrInvalidRating), errors.Is(err, usage.ErrInvalidID):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Str("usage_id", req.UsageID).Msg("rating failed")
		WriteError(w, http.StatusInternalServerError, "failed to save rating")
	}
}
