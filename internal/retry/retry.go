// Package retry provides the single retry/backoff policy shared by every
// external call site in the pipeline (embedding requests, vector-index
// search, completion calls).
//
// The schedule follows the error classification from internal/fault:
// rate-limited failures back off exponentially, other transient failures
// back off linearly, and everything else aborts the attempt loop
// immediately.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tutorstack/retrieval/internal/fault"
)

// Policy bounds an attempt loop. The zero value is not usable; construct
// with Default or set every field.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts uint

	// BaseDelay seeds the backoff schedule.
	BaseDelay time.Duration

	// Logger receives one Warn line per failed attempt. Nil disables
	// attempt logging.
	Logger *slog.Logger
}

// Default mirrors the retry discipline used across the pipeline:
// three attempts starting from a one-second delay.
func Default(logger *slog.Logger) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Logger: logger}
}

// Do runs op until it succeeds, exhausts MaxAttempts, the context is
// cancelled, or op returns a non-retryable error. The returned error is
// the last error from op, with its fault classification intact.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	sched := &adaptiveBackOff{base: p.BaseDelay}

	operation := func() (struct{}, error) {
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		sched.observe(fault.KindOf(err))
		if !fault.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, next time.Duration) {
		if p.Logger != nil {
			p.Logger.Warn("retrying after failure",
				"op", name,
				"kind", fault.KindOf(err).String(),
				"delay", next,
				"error", err)
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(sched),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithNotify(notify),
	)
	return err
}

// adaptiveBackOff switches schedule based on the kind of the last failure:
// exponential doubling for rate limits, linear growth for server errors.
type adaptiveBackOff struct {
	base     time.Duration
	attempts int
	lastKind fault.Kind
}

func (b *adaptiveBackOff) observe(kind fault.Kind) {
	b.lastKind = kind
}

func (b *adaptiveBackOff) NextBackOff() time.Duration {
	b.attempts++
	if b.lastKind == fault.KindRateLimited {
		return b.base << (b.attempts - 1)
	}
	return b.base * time.Duration(b.attempts)
}

func (b *adaptiveBackOff) Reset() {
	b.attempts = 0
	b.lastKind = fault.KindUnknown
}
