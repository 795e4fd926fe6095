package recognize

import "errors"

// DefaultFailureMessage is used when the service reports a failure without
// a message of its own.
const DefaultFailureMessage = "Recognition failed"

// ErrEmptyURL is returned by [New] when no endpoint is given.
var ErrEmptyURL = errors.New("recognize: endpoint URL must not be empty")

// RecognitionError is returned for every failed recognition: transport
// errors, non-2xx responses, and 2xx responses carrying a non-zero status.
// It is never retried automatically.
type RecognitionError struct {
	// Message is the server-supplied message, or [DefaultFailureMessage].
	Message string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Code is the service status code from a 2xx body, if any.
	Code int

	// Err is the underlying cause, if any.
	Err error
}

func (e *RecognitionError) Error() string {
	return "recognize: " + e.Message
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Transient reports whether the failure says something about the health of
// the service (transport errors and 5xx) rather than about the recording.
func (e *RecognitionError) Transient() bool {
	return e.StatusCode == 0 && e.Code == 0 || e.StatusCode >= 500
}
