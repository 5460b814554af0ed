package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// NetworkError is a failed call to a market-data endpoint.
type NetworkError struct {
	Op         string // endpoint or SDK call
	StatusCode int    // 0 for transport failures
	Body       string // truncated response body
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed: transport
// failures, timeouts, throttling and server errors are transient.
func (e *NetworkError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == 418, // Binance IP ban warning, backs off like 429
		e.StatusCode >= 500:
		return true
	}
	return false
}

// IsRetryable reports whether err is a transient market-data failure.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te net.Error
	return errors.As(err, &te) && te.Timeout()
}
