package gs1

import (
	"errors"
	"fmt"
)

// Parse error kinds
var (
	ErrUnknownAI        = errors.New("unknown AI")
	ErrInsufficientData = errors.New("insufficient data")
	ErrDuplicateAI      = errors.New("duplicate AI")
	ErrInvalidEAN13     = errors.New("invalid EAN-13")
	ErrMalformedPair    = errors.New("malformed AI pair")
)

// ParseError describes why a payload could not be parsed. It unwraps to one
// of the kind sentinels above so callers can use errors.Is.
type ParseError struct {
	Kind   error
	AI     string
	Offset int
	Detail string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	switch {
	case e.AI != "" && e.Detail != "":
		return fmt.Sprintf("gs1: %v for AI '%s' at offset %d: %s", e.Kind, e.AI, e.Offset, e.Detail)
	case e.AI != "":
		return fmt.Sprintf("gs1: %v for AI '%s' at offset %d", e.Kind, e.AI, e.Offset)
	case e.Detail != "":
		return fmt.Sprintf("gs1: %v at offset %d: %s", e.Kind, e.Offset, e.Detail)
	}
	return fmt.Sprintf("gs1: %v at offset %d", e.Kind, e.Offset)
}

// Unwrap returns the error kind
func (e *ParseError) Unwrap() error {
	return e.Kind
}

func newParseError(kind error, ai string, offset int, detail string) *ParseError {
	return &ParseError{Kind: kind, AI: ai, Offset: offset, Detail: detail}
}
