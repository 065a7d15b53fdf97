package functions

import (
	"context"
	"errors"
	"fmt"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/util/resiliency"
)

// Callable error statuses used by the backend.
const (
	StatusInvalidArgument = "INVALID_ARGUMENT"
	StatusUnauthenticated = "UNAUTHENTICATED"
	StatusPermission      = "PERMISSION_DENIED"
	StatusNotFound        = "NOT_FOUND"
	StatusInternal        = "INTERNAL"
	StatusUnavailable     = "UNAVAILABLE"
)

// ErrNoToken is returned when the TokenSource has no credential.
var ErrNoToken = errors.New("functions: no id token available")

// CallError is a non-2xx response from a function.
type CallError struct {
	Function   string
	HTTPStatus int
	Status     string
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("functions: %s failed: %d %s: %s", e.Function, e.HTTPStatus, e.Status, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *CallError) Temporary() bool {
	return e.HTTPStatus >= 500
}

// Retryable reports whether err is worth another attempt: server-side
// failures and transport errors are. Client errors, cancellation and an
// open breaker are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNoToken) ||
		errors.Is(err, resiliency.ErrOpen) {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Temporary()
	}
	return true
}
