package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned for HTTP 401, the session token is missing or expired
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownRecordType is returned when no create endpoint exists for a record type
	ErrUnknownRecordType = errors.New("no create endpoint for record type")
)

// TransportError is a transient failure: the request may not have reached the
// server, timed out, or the server asked to be retried later (408, 429, 5xx).
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a permanent refusal, typically payload validation (4xx)
type RejectedError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: rejected with HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: rejected with HTTP %d", e.Op, e.StatusCode)
}

// IsTransport reports whether err is or wraps a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected reports whether err is or wraps a RejectedError
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
