package provider

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when a provider call exceeds its deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout", e.Op)
}

// ConnectionError is returned when the provider could not be reached or the
// connection broke mid-response.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RateLimitedError is returned on HTTP 429.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration // zero when the provider sent no hint
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Op)
}

// ServerError is returned for non-success HTTP statuses other than 429.
type ServerError struct {
	Op     string
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error: status %d", e.Op, e.Status)
}

// MalformedResponseError is returned when a payload fails decoding or validation.
type MalformedResponseError struct {
	Op     string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Reason)
}

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var m *MalformedResponseError
	return errors.As(err, &m)
}

// IsTransient reports whether err is one of the provider failure kinds that a
// later attempt might not reproduce.
func IsTransient(err error) bool {
	var (
		te *TimeoutError
		ce *ConnectionError
		re *RateLimitedError
		se *ServerError
	)
	return errors.As(err, &te) || errors.As(err, &ce) || errors.As(err, &re) || errors.As(err, &se)
}

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	var (
		te *TimeoutError
		ce *ConnectionError
		re *RateLimitedError
		se *ServerError
		me *MalformedResponseError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &ce):
		return "connection"
	case errors.As(err, &re):
		return "rate_limited"
	case errors.As(err, &se):
		return "server_error"
	case errors.As(err, &me):
		return "malformed_response"
	default:
		return "other"
	}
}
