package rtc

import (
	"errors"
	"fmt"
)

var (
	// ErrEpochOutOfRange indicates the time can't be represented by the
	// peripheral clock, which counts from 2000-01-01 and stops at 2099.
	ErrEpochOutOfRange = errors.New("epoch out of peripheral range")
	// ErrClosed indicates the connection has already been released.
	ErrClosed = errors.New("connection closed")
)

// ConnectionError indicates the device can't be opened.
type ConnectionError struct {
	Path string
	Err  error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IOError wraps a failed write or read on an open connection.
type IOError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the reply from the peripheral is not a valid time.
type ProtocolError struct {
	Response []byte
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("invalid time reply %q", e.Response)
}
