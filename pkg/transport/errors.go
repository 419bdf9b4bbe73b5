package transport

import (
	"errors"
	"fmt"
)

// ErrUnexpectedResponse matches every TransportError and DecodeError via errors.Is.
var ErrUnexpectedResponse = errors.New("server unexpected response")

// ErrEmptyBody is the cause of a TransportError for a 200 response with no body.
var ErrEmptyBody = errors.New("empty response body")

// TransportError is a request that failed on the network, came back with a
// status other than 200, or came back without a body.
type TransportError struct {
	Op         string
	StatusCode int // zero when no response was received
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s: status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == ErrUnexpectedResponse }

// DecodeError is a response whose body is present but does not have the
// expected shape.
type DecodeError struct {
	Op    string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("transport: %s: failed to decode response: %v", e.Op, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func (e *DecodeError) Is(target error) bool { return target == ErrUnexpectedResponse }

// StatusCode extracts the HTTP status of a failed request, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
