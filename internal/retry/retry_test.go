package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy(attempts int) Backoff {
	return Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Attempts: attempts}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "op", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestDoExhaustionReturnsTimeout(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "op", func(context.Context) error {
		calls++
		return Transient(errors.New("still flaky"))
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout after exhaustion, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Backoff{Base: time.Hour, Attempts: 2}, "op", func(context.Context) error {
		return Transient(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeoutConvertsDeadline(t *testing.T) {
	fn := WithTimeout(5*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	err := fn(context.Background())
	if !IsRetryable(err) {
		t.Fatalf("deadline exceedance must be retryable, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastPolicy(4), "op", func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, Transient(fmt.Errorf("attempt %d", calls))
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestBackoffDelayCaps(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 30 * time.Second, Attempts: 5}
	if d := b.Delay(1); d != 2*time.Second {
		t.Errorf("delay(1) = %v", d)
	}
	if d := b.Delay(2); d != 4*time.Second {
		t.Errorf("delay(2) = %v", d)
	}
	if d := b.Delay(10); d != 30*time.Second {
		t.Errorf("delay(10) should cap at 30s, got %v", d)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !IsRetryable(Transient(errors.New("x"))) {
		t.Error("transient errors are retryable")
	}
	if !IsRetryable(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) {
		t.Error("deadline exceedances are retryable")
	}
}
