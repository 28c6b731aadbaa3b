package store

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord marks a record that cannot be written as given.
var ErrInvalidRecord = errors.New("invalid record")

// Kind classifies store failures.
type Kind int

const (
	// IOFailure means the backend could not read or write.
	IOFailure Kind = iota + 1
	// SerializationFailure means a record could not be encoded or decoded.
	SerializationFailure
)

func (k Kind) String() string {
	switch k {
	case IOFailure:
		return "io failure"
	case SerializationFailure:
		return "serialization failure"
	default:
		return "unknown failure"
	}
}

// Error is returned by every Store operation that fails.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IOError wraps err as an IOFailure.
func IOError(op string, err error) error {
	return &Error{Kind: IOFailure, Op: op, Err: err}
}

// SerializationError wraps err as a SerializationFailure.
func SerializationError(op string, err error) error {
	return &Error{Kind: SerializationFailure, Op: op, Err: err}
}

func invalid(op, reason string) error {
	return SerializationError(op, fmt.Errorf("%w: %s", ErrInvalidRecord, reason))
}

// KindOf returns the Kind of a store error anywhere in err's chain, or 0.
func KindOf(err error) Kind {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return 0
}
