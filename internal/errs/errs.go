// Package errs carries a failure kind alongside an error so callers can
// decide what to do with it without inspecting error text.
package errs

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	// KindNotFound: the referenced object or row does not exist.
	KindNotFound
	// KindTransient: infrastructure failure expected to heal on its own.
	KindTransient
	// KindInvalidInput: the input can never become valid.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err still produces an error so callers can
// report conditions that have no underlying cause.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsPermanent reports whether retrying the operation cannot change its result.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindInvalidInput:
		return true
	default:
		return false
	}
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
