package notification

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a decryption failure.
type ErrorKind string

const (
	MalformedEnvelope ErrorKind = "MALFORMED_ENVELOPE"
	MalformedPayload  ErrorKind = "MALFORMED_PAYLOAD"
	UnknownCategory   ErrorKind = "UNKNOWN_CATEGORY"
)

// ErrOpen is returned by an Opener that cannot authenticate its input.
var ErrOpen = errors.New("notification: cannot open sealed box")

// DecryptError is returned by Decrypt for every envelope it cannot turn
// into a typed notification.
type DecryptError struct {
	Kind     ErrorKind
	Category string
	Err      error
}

func (e *DecryptError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("notification: %s (%s): %v", e.Kind, e.Category, e.Err)
	}
	return fmt.Sprintf("notification: %s: %v", e.Kind, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// KindOf returns the kind of a DecryptError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *DecryptError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func malformedEnvelope(err error) error {
	return &DecryptError{Kind: MalformedEnvelope, Err: err}
}

func malformedPayload(category string, err error) error {
	return &DecryptError{Kind: MalformedPayload, Category: category, Err: err}
}
