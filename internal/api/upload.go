package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scribe/internal/admission"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/ingest"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/usage"
)

// UploadHandler admits, ingests, validates, and transcribes uploads and
// relays the transcript as it is produced.
type UploadHandler struct {
	gate        *admission.Gate
	ingestor    *ingest.Ingestor
	prober      audio.DurationProber
	transcriber transcribe.Transcriber
	relay       *relay.Relay
	ledger      *usage.Ledger
	maxDuration time.Duration
	proxyHeader string
}

// UploadStatus is the body of GET /upload.
type UploadStatus struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// Routes registers the upload endpoints.
func (h *UploadHandler) Routes(r chi.Router) {
	r.Get("/upload", h.Status)
	r.Post("/upload", h.Upload)
}

// Status handles GET /upload. It reports the caller's remaining quota
// without charging it.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := admission.ClientID(r, h.proxyHeader)
	d, err := h.gate.Peek(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("quota lookup failed")
		WriteError(w, http.StatusInternalServerError, "failed to read quota")
		return
	}
	if d.Remaining == 0 {
		setRetryAfter(w, d.ResetAt)
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	WriteJSON(w, http.StatusOK, UploadStatus{
		Remaining: d.Remaining,
		Limit:     d.Limit,
		ResetAt:   d.ResetAt.UTC(),
	})
}

// Upload handles POST /upload.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := hlog.FromRequest(r)
	id := admission.ClientID(r, h.proxyHeader)

	d, ticket, err := h.gate.Admit(ctx, id)
	if errors.Is(err, admission.ErrQuotaExceeded) {
		setRetryAfter(w, d.ResetAt)
		writeReason(w, http.StatusTooManyRequests, reasonQuota)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("admission failed")
		writeReason(w, http.StatusInternalServerError, reasonAdmission)
		return
	}

	up, err := h.ingestor.Ingest(w, r)
	if err != nil {
		h.gate.Refund(ctx, ticket)
		status, reason, label := ingestFailure(err)
		metrics.UploadRejectionsTotal.WithLabelValues(label).Inc()
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("ingest failed")
		} else {
			log.Info().Err(err).Msg("upload rejected")
		}
		writeReason(w, status, reason)
		return
	}
	defer up.Artifact.Remove()

	language := up.Field("language", transcribe.DefaultLanguage)

	dur, known := h.prober.Probe(ctx, up.Artifact.Path)
	if known && h.maxDuration > 0 && dur > h.maxDuration {
		h.gate.Refund(ctx, ticket)
		metrics.UploadRejectionsTotal.WithLabelValues("duration").Inc()
		log.Info().Dur("duration", dur).Msg("upload rejected: too long")
		writeReason(w, http.StatusBadRequest, durationReason(dur, h.maxDuration))
		return
	}

	res, err := h.transcriber.Transcribe(ctx, transcribe.Request{Artifact: up.Artifact, Language: language})
	if err != nil {
		if clientGone(err) {
			log.Info().Err(err).Msg("client went away before streaming")
			return
		}
		status, reason := transcribeFailure(err)
		log.Error().Err(err).Msg("transcription failed")
		writeReason(w, status, reason)
		return
	}

	usageID, recorded := h.ledger.Record(ctx, usage.Entry{
		FileSizeBytes: up.Artifact.Size,
		Model:         res.Model,
		Duration:      dur,
		DurationKnown: known,
		Language:      language,
	})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	if recorded {
		hdr.Set("X-Usage-Id", usageID)
	}
	w.WriteHeader(http.StatusOK)

	n, err := h.relay.Copy(ctx, w, res.Stream)
	level := zerolog.InfoLevel
	if err != nil && !clientGone(err) {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).Err(err).
		Str("model", res.Model).
		Str("usage_id", usageID).
		Int64("file_size", up.Artifact.Size).
		Int64("relayed", n).
		Msg("transcript stream finished")
}

func setRetryAfter(w http.ResponseWriter, resetAt time.Time) {
	if resetAt.IsZero() {
		return
	}
	secs := int(math.Ceil(time.Until(resetAt).Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
