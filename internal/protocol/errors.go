package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports JSON that does not parse or does not match the
	// schema for its type.
	ErrMalformed = errors.New("malformed payload")
	// ErrMissingData reports an envelope whose type requires data but has none.
	ErrMissingData = errors.New("missing data")
	// ErrUnknownType reports an envelope type this decoder does not handle.
	// Callers drop these frames without logging.
	ErrUnknownType = errors.New("unknown command type")
)

// DecodeError describes why one frame could not become a command.
type DecodeError struct {
	Type  string
	Err   error // one of the sentinels above
	Cause error // underlying parse error, if any
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode %q: %v: %v", e.Type, e.Err, e.Cause)
	}
	return fmt.Sprintf("decode %q: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func malformed(typ string, cause error) error {
	return &DecodeError{Type: typ, Err: ErrMalformed, Cause: cause}
}
