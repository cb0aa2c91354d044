package queryconn

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrNotConnected is returned by operations that need an open stream.
	ErrNotConnected = errors.New("queryconn: not connected")

	// ErrClosed is the disconnect cause reported after Close.
	ErrClosed = errors.New("queryconn: closed")

	// ErrIdle is returned by Poll when no line arrived in time.
	ErrIdle = errors.New("queryconn: no line available")

	// ErrProtocolMismatch indicates a server that is not a query interface.
	ErrProtocolMismatch = errors.New("queryconn: protocol mismatch")

	// ErrNoHost indicates a connection without a host to dial.
	ErrNoHost = errors.New("queryconn: no host configured")
)

// ConfigError reports an unusable connection configuration.
type ConfigError struct {
	Addr   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("queryconn: invalid address %q: %s", e.Addr, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrNoHost
}

// ProtocolMismatchError carries the greeting that failed the banner check.
type ProtocolMismatchError struct {
	Want     string
	Greeting string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("queryconn: expected greeting starting with %q, got %q", e.Want, e.Greeting)
}

func (e *ProtocolMismatchError) Unwrap() error {
	return ErrProtocolMismatch
}

// TransportError wraps an I/O failure. The connection has been reset when one
// is returned.
type TransportError struct {
	Op  string // "dial", "send" or "recv"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("queryconn: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TypeError reports a payload that is not a string.
type TypeError struct {
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("queryconn: cannot send value of type %T", e.Value)
}
