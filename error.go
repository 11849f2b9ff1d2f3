package mcpcan

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrNotConnected     = errors.New("port not connected")
	ErrAlreadyConnected = errors.New("port already connected")
	ErrReadTimeout      = errors.New("read timeout")
	ErrInvalidSweep     = errors.New("invalid sweep config")
)

// OpenError is returned when the transport could not be opened.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open port %q: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// EncodingError rejects a frame request before anything is written.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DecodeError reports a line that carried the receive prefix but could not be
// parsed. Callers drop the line.
type DecodeError struct {
	Line   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed line %q: %s", e.Line, e.Reason)
}
