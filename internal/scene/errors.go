package scene

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownLayer    = errors.New("unknown layer")
	ErrDuplicateLayer  = errors.New("duplicate layer")
	ErrCoordOutOfRange = errors.New("coordinate out of range")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrInvalidShape    = errors.New("invalid shape")
)

// LayerError records the layer and operation that failed.
type LayerError struct {
	Layer  string
	Op     string
	Err    error
	Detail string
}

func (e *LayerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %q: %v: %s", e.Op, e.Layer, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

func layerErr(op, layer string, err error, format string, args ...interface{}) error {
	return &LayerError{Layer: layer, Op: op, Err: err, Detail: fmt.Sprintf(format, args...)}
}
