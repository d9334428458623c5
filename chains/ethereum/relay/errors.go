package relay

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRelayUnavailable wraps transport failures: DNS, connect, TLS, timeouts.
	ErrRelayUnavailable = errors.New("relay unavailable")
	// ErrRelayRejected is matched by every *RejectedError.
	ErrRelayRejected = errors.New("relay rejected request")
	// ErrMalformedResponse means a required field is absent or has the wrong type.
	ErrMalformedResponse = errors.New("malformed relay response")
)

const maxErrorBody = 512

// RejectedError is a non-2xx answer from the relayer.
type RejectedError struct {
	StatusCode int
	Body       string
}

func newRejectedError(status int, body []byte) *RejectedError {
	if len(body) > maxErrorBody {
		body = append(body[:maxErrorBody:maxErrorBody], "..."...)
	}
	return &RejectedError{StatusCode: status, Body: string(body)}
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", ErrRelayRejected, e.StatusCode, e.Body)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRelayRejected
}

// Transient is true when the relayer asked to be retried later.
func (e *RejectedError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
