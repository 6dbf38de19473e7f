package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/ingest"
	"github.com/snarg/scribe/internal/transcribe"
)

// Plain-text reasons returned to upload clients.
const (
	reasonQuota          = "Daily upload limit reached. Try again later."
	reasonCrossOrigin    = "Cross-origin requests are not allowed."
	reasonTooLarge       = "File is too large."
	reasonNotMultipart   = "Request must be multipart/form-data."
	reasonMissingFile    = "No file was uploaded."
	reasonMalformed      = "Could not read the upload."
	reasonUploadInternal = "Upload failed. Please try again."
	reasonBusy           = "The transcription service is busy. Please try again later."
	reasonProviderUpload = "Could not send the file to the transcription service."
	reasonProcessing     = "The transcription service could not process this file."
	reasonTranscribe     = "Transcription failed."
	reasonRepair         = "Could not repair the transcript."
	reasonAdmission      = "Could not check the upload limit."
)

// writeReason writes a short plain-text failure reason.
func writeReason(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, reason)
}

// ingestFailure maps an ingest error to a status, reason, and metric label.
func ingestFailure(err error) (status int, reason, label string) {
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, reasonTooLarge, "too_large"
	case errors.Is(err, ingest.ErrNotMultipart):
		return http.StatusBadRequest, reasonNotMultipart, "not_multipart"
	case errors.Is(err, ingest.ErrMissingFile):
		return http.StatusBadRequest, reasonMissingFile, "missing_file"
	case errors.Is(err, ingest.ErrMalformed):
		return http.StatusBadRequest, reasonMalformed, "malformed"
	default:
		return http.StatusInternalServerError, reasonUploadInternal, "internal"
	}
}

func durationReason(d, limit time.Duration) string {
	return fmt.Sprintf("Media is %s long; the limit is %s.", audio.FormatDuration(d), audio.FormatDuration(limit))
}

// transcribeFailure maps an orchestration error to a status and reason.
func transcribeFailure(err error) (int, string) {
	switch {
	case transcribe.IsProviderExhausted(err):
		return http.StatusInternalServerError, reasonBusy
	case errors.Is(err, transcribe.ErrUploadFailed):
		return http.StatusInternalServerError, reasonProviderUpload
	case errors.Is(err, transcribe.ErrProcessingFailed), errors.Is(err, transcribe.ErrMissingLocator):
		return http.StatusInternalServerError, reasonProcessing
	default:
		return http.StatusInternalServerError, reasonTranscribe
	}
}

// clientGone reports whether err is the request context ending.
func clientGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
