package backend

import (
	"errors"
	"fmt"
)

// ErrEmptyUserID is returned when a user scoped call has no user id
var ErrEmptyUserID = errors.New("user id is required")

// ParseError reports a response body that does not match the expected schema
type ParseError struct {
	Operation  string
	StatusCode int
	Reason     string
	Err        error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response (status %d): %s: %v", e.Operation, e.StatusCode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response (status %d): %s", e.Operation, e.StatusCode, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status from the backend
type StatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// IsParseError reports whether err wraps a *ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
