package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tutorstack/retrieval/internal/fault"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return fault.Transient(errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() unexpected error after recovery: %v", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fault.RateLimited(errors.New("429"))
	})
	if err == nil {
		t.Fatal("Do() expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	if fault.KindOf(err) != fault.KindRateLimited {
		t.Errorf("final error kind = %v, want rate_limited", fault.KindOf(err))
	}
}

func TestDoStopsOnValidation(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fault.Validation(errors.New("empty vector"))
	})
	if err == nil {
		t.Fatal("Do() expected validation error")
	}
	if calls != 1 {
		t.Errorf("validation error retried: op called %d times, want 1", calls)
	}
	if !fault.IsValidation(err) {
		t.Errorf("classification lost: KindOf = %v", fault.KindOf(err))
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fault.Permanent(errors.New("bad credentials"))
	})
	if err == nil {
		t.Fatal("Do() expected permanent error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried: op called %d times, want 1", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}.Do(ctx, "op",
		func(context.Context) error {
			calls++
			cancel()
			return fault.Transient(errors.New("timeout"))
		})
	if err == nil {
		t.Fatal("Do() expected error after cancellation")
	}
	if calls > 2 {
		t.Errorf("op called %d times after cancel, want at most 2", calls)
	}
}

func TestAdaptiveSchedule(t *testing.T) {
	b := &adaptiveBackOff{base: time.Second}

	b.observe(fault.KindTransient)
	if d := b.NextBackOff(); d != time.Second {
		t.Errorf("linear attempt 1 = %v, want 1s", d)
	}
	if d := b.NextBackOff(); d != 2*time.Second {
		t.Errorf("linear attempt 2 = %v, want 2s", d)
	}

	b.Reset()
	b.observe(fault.KindRateLimited)
	if d := b.NextBackOff(); d != time.Second {
		t.Errorf("exponential attempt 1 = %v, want 1s", d)
	}
	if d := b.NextBackOff(); d != 2*time.Second {
		t.Errorf("exponential attempt 2 = %v, want 2s", d)
	}
	if d := b.NextBackOff(); d != 4*time.Second {
		t.Errorf("exponential attempt 3 = %v, want 4s", d)
	}
}
