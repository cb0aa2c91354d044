package query

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel errors
var (
	// ErrResponseExpected is returned when the server sends an empty line
	// while a reply is outstanding.
	ErrResponseExpected = errors.New("query: response expected")

	// ErrInvalidRequest is wrapped by TypeError.
	ErrInvalidRequest = errors.New("query: invalid request")

	// ErrHandlerNotRegistered is returned when removing an unknown handler.
	ErrHandlerNotRegistered = errors.New("query: handler not registered")

	// ErrUnknownEventKind is wrapped by UnknownEventKindError.
	ErrUnknownEventKind = errors.New("query: unknown event kind")

	// ErrUnexpectedLine is wrapped by UnexpectedLineError.
	ErrUnexpectedLine = errors.New("query: unexpected line")

	// ErrClosed completes requests still pending when the client closes.
	ErrClosed = errors.New("query: client closed")
)

// TypeError reports a request that cannot be sent.
type TypeError struct {
	Reason string
	Err    error
}

func (e *TypeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query: invalid request: %s: %v", e.Reason, e.Err)
	}
	return "query: invalid request: " + e.Reason
}

func (e *TypeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidRequest, e.Err}
	}
	return []error{ErrInvalidRequest}
}

// UnexpectedLineError reports a line that is neither a notification nor
// part of a reply to an outstanding request.
type UnexpectedLineError struct {
	Line string
}

func (e *UnexpectedLineError) Error() string {
	return fmt.Sprintf("query: unexpected line %q", e.Line)
}

func (e *UnexpectedLineError) Unwrap() error {
	return ErrUnexpectedLine
}

// UnknownEventKindError reports a notification whose kind is not known.
type UnknownEventKindError struct {
	Kind string
	Line string
}

func (e *UnknownEventKindError) Error() string {
	return fmt.Sprintf("query: unknown event kind %q", e.Kind)
}

func (e *UnknownEventKindError) Unwrap() error {
	return ErrUnknownEventKind
}

// StatusError is a reply whose status id is not zero.
type StatusError struct {
	Command      string
	ID           int
	Message      string
	ExtraMessage string
	FailedPermID string
}

func (e *StatusError) Error() string {
	s := "query: " + e.Command + ": error " + strconv.Itoa(e.ID) + ": " + e.Message
	if e.ExtraMessage != "" {
		s += " (" + e.ExtraMessage + ")"
	}
	if e.FailedPermID != "" {
		s += " [failed_permid=" + e.FailedPermID + "]"
	}
	return s
}

// Well-known status ids.
const (
	StatusOK                = 0
	StatusCommandNotFound   = 256
	StatusInvalidClientID   = 512
	StatusInvalidLogin      = 520
	StatusInvalidChannelID  = 768
	StatusInvalidServerID   = 1024
	StatusDatabaseEmpty     = 1281
	StatusInvalidParameter  = 1538
	StatusParameterNotFound = 1539
	StatusInsufficientPerms = 2568
	StatusFloodBan          = 3329
)

// IsStatus reports whether err is a StatusError with the given id.
func IsStatus(err error, id int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.ID == id
}
