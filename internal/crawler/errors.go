package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyContent means a tier answered but the page had nothing usable.
	ErrEmptyContent = errors.New("empty content")
	// ErrUnparseable means the page had content that no parser could use.
	ErrUnparseable = errors.New("unparseable content")
	// ErrRendererUnavailable means no browser could be started.
	ErrRendererUnavailable = errors.New("renderer unavailable")
	// ErrJobNotFound is returned by job stores for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed means the job queue was shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Transient reports whether the status is worth retrying on the same tier.
func (e *StatusError) Transient() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// ClassifyError maps a tier error onto an attempt outcome.
func ClassifyError(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrEmptyContent):
		return OutcomeEmpty
	case errors.Is(err, ErrUnparseable):
		return OutcomeParseError
	case errors.As(err, &statusErr):
		if statusErr.Transient() {
			return OutcomeNetworkError
		}
		return OutcomeEmpty
	default:
		return OutcomeNetworkError
	}
}
