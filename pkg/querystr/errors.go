package querystr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType indicates a value that has no wire representation.
	ErrUnsupportedType = errors.New("querystr: unsupported value type")

	// ErrInvalidToken is wrapped by TokenError.
	ErrInvalidToken = errors.New("querystr: invalid token")
)

// TypeError reports a value whose Go type cannot be escaped or unescaped.
type TypeError struct {
	Op    string // "escape" or "unescape"
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("querystr: cannot %s value of type %T", e.Op, e.Value)
}

func (e *TypeError) Unwrap() error {
	return ErrUnsupportedType
}

// TokenError reports a command, parameter key or option flag that is empty
// or contains whitespace, control characters, '|' or '='.
type TokenError struct {
	Kind  string // "command", "key" or "option"
	Token string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("querystr: invalid %s %q", e.Kind, e.Token)
}

func (e *TokenError) Unwrap() error {
	return ErrInvalidToken
}
