// Package fault classifies errors crossing service boundaries.
//
// Every external call in the pipeline (embedding, vector index, cache,
// relational store, completion) wraps its failures in one of a small set
// of kinds. The retry policy and the read/write propagation rules are
// driven entirely by these kinds, so call sites never string-match on
// provider errors.
package fault

import (
	"errors"
	"fmt"
)

// Kind partitions failures by how the pipeline must react to them.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no classification.
	KindUnknown Kind = iota

	// KindValidation marks malformed input. Never retried.
	KindValidation

	// KindTransient marks timeouts, connection failures and 5xx responses.
	// Retried with linear backoff.
	KindTransient

	// KindRateLimited marks 429-style responses. Retried with exponential
	// backoff to let the provider window recover.
	KindRateLimited

	// KindPermanent marks auth failures and malformed response shapes.
	// Logged, never retried, surfaced as a degraded result on read paths.
	KindPermanent

	// KindIntegrity marks corrupt cached payloads or unexpected index
	// response shapes. Treated as a miss, never fatal.
	KindIntegrity
)

// String returns the kind name for log fields.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Error pairs an underlying error with its kind. It is created through
// the constructor functions below, never directly.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.err }

// Kind reports the classification of this error.
func (e *Error) Kind() Kind { return e.kind }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// Validation wraps err as malformed input.
func Validation(err error) error { return wrap(KindValidation, err) }

// Validationf is shorthand for Validation(fmt.Errorf(...)).
func Validationf(format string, args ...any) error {
	return wrap(KindValidation, fmt.Errorf(format, args...))
}

// Transient wraps err as a retryable service failure.
func Transient(err error) error { return wrap(KindTransient, err) }

// RateLimited wraps err as a provider rate-limit rejection.
func RateLimited(err error) error { return wrap(KindRateLimited, err) }

// Permanent wraps err as a non-retryable service failure.
func Permanent(err error) error { return wrap(KindPermanent, err) }

// Integrity wraps err as a corrupt-data warning.
func Integrity(err error) error { return wrap(KindIntegrity, err) }

// KindOf walks the error chain and returns the first classification found,
// or KindUnknown when the error was never classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindUnknown
}

// IsValidation reports whether err is classified as malformed input.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsRetryable reports whether err may be retried at all.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimited
}
