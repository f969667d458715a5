package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDryRun: the adapter is running in dry-run mode and makes no
	// exchange calls. Latches the poller's circuit breaker.
	ErrDryRun = errors.New("exchange adapter in dry-run mode")

	// ErrNotConfigured: no API credentials. Latches the circuit breaker.
	ErrNotConfigured = errors.New("exchange credentials not configured")

	// ErrTradeFinal: a transition was requested for a trade already in a
	// terminal status. Expected during concurrent closes; callers treat
	// it as a no-op.
	ErrTradeFinal = errors.New("trade already in a terminal status")

	ErrTradeNotFound = errors.New("trade not found")
)

// HTTPError is a non-2xx exchange response. Retried next cycle.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("exchange returned HTTP %d: %s", e.StatusCode, e.Body)
}

// ClassifyFetchFailure maps a position/price fetch error to the snapshot
// failure taxonomy. Classification is by error identity, never by message
// text.
func ClassifyFetchFailure(err error) FailureReason {
	var httpErr *HTTPError
	switch {
	case errors.Is(err, ErrDryRun):
		return FailureDryRun
	case errors.Is(err, ErrNotConfigured):
		return FailureNotConfigured
	case errors.As(err, &httpErr):
		return FailureHTTP
	default:
		return FailureNetwork
	}
}
