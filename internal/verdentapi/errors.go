package verdentapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrMissingData is returned when a successful envelope carries no payload.
var ErrMissingData = errors.New("response is missing data")

// HTTPError reports a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string // truncated, for debug logging only
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// APIError reports a non-zero application error code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// RetryError is the classified outcome of a retried call.
// Error returns the user-facing message; Unwrap exposes the last failure.
type RetryError struct {
	Attempts int
	Message  string
	Err      error
}

func (e *RetryError) Error() string { return e.Message }

func (e *RetryError) Unwrap() error { return e.Err }

// Classification decides whether a failed call may be retried and how to
// describe it to a user.
type Classification struct {
	Retryable bool
	Message   string
}

// Classify sorts err into retryable (network, DNS, timeouts, HTTP 5xx) or
// terminal (HTTP 4xx, application errors, anything unrecognized).
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Message: "request cancelled"}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500:
			return Classification{Retryable: true, Message: "server error, please try again later"}
		case httpErr.StatusCode == http.StatusUnauthorized:
			return Classification{Message: "token expired or invalid, please sign in again"}
		case httpErr.StatusCode == http.StatusForbidden:
			return Classification{Message: "access denied"}
		case httpErr.StatusCode == http.StatusNotFound:
			return Classification{Message: "API endpoint not found"}
		default:
			return Classification{Message: httpErr.Error()}
		}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return Classification{Message: apiErr.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Retryable: true, Message: "request timed out, please try again later"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Retryable: true, Message: "request timed out, please try again later"}
	}

	// Only failures below HTTP count; url.Error alone also wraps bad schemes
	// and rejected certificates, which no retry can fix.
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return Classification{Retryable: true, Message: "network connection failed, please check your connection"}
	}

	return Classification{Message: err.Error()}
}
