// internal/liberr/liberr.go
package liberr

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
)

// Kind classifies a failure so callers can react without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInsufficientStock
	KindConflict
	KindDuplicate
	KindInUse
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindConflict:
		return "transaction_conflict"
	case KindDuplicate:
		return "duplicate"
	case KindInUse:
		return "in_use"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "store_unavailable"
	default:
		return "internal"
	}
}

// Kinded is implemented by every error that knows its own kind.
type Kinded interface {
	error
	Kind() Kind
}

// Error is a generic kinded error with a human message.
type Error struct {
	kind    Kind
	Message string
	Err     error
}

// New creates a kinded error.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Kind() Kind { return e.kind }

// KindOf resolves the kind of err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return KindValidation
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}

	return KindInternal
}

// Is reports whether err resolves to kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return Is(err, KindConflict)
}

// Message returns the most specific human message carried by err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.Error()
	}
	return err.Error()
}
