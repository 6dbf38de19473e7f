package transcribe

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

var (
	ErrUploadFailed     = errors.New("upload to provider failed")
	ErrProcessingFailed = errors.New("provider failed to process the file")
	ErrPollExhausted    = errors.New("provider kept failing while processing the file")
	ErrMissingLocator   = errors.New("provider returned no file locator")
	ErrAllModelsFailed  = errors.New("all models are currently unavailable")
)

// isTransient reports whether a poll error is worth retrying: a 5xx from the
// provider or a transport-level failure.
func isTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

var overloadMarkers = []string{
	"overload",
	"rate limit",
	"resource exhausted",
	"resource_exhausted",
	"unavailable",
	"try again later",
}

// isRetryable reports whether a generation error should advance to the next
// model: rate limiting, temporary unavailability, or an overload message.
func isRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Code == http.StatusTooManyRequests || pe.Code == http.StatusServiceUnavailable {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range overloadMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
