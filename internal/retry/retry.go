// Package retry provides the backoff + timeout combinators wrapped around
// every blocking adapter and agent call. Two nested policies are in play:
// adapter-level (5 attempts, base 2s, cap 30s) and agent-level (3 attempts).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"brain/internal/logging"
)

// Sentinel errors shared across the ingestion core.
var (
	// ErrTimeout surfaces after a wall-clock deadline or retry exhaustion on
	// transient failures.
	ErrTimeout = errors.New("operation timed out")
	// ErrNotFound reports a missing graph/document entity.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEdge reports a near-duplicate edge suppressed by the
	// similarity dedupe.
	ErrDuplicateEdge = errors.New("duplicate edge")
	// ErrEmptyEmbedding marks a vector that carries no embeddings and must be
	// skipped by vector writes.
	ErrEmptyEmbedding = errors.New("empty embedding")
)

// transientError wraps an error to mark it retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable reports whether err should be retried: explicitly transient
// errors, deadline exceedances, and ErrTimeout itself.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout)
}

// Backoff is an exponential backoff policy.
type Backoff struct {
	Base     time.Duration // first delay
	Max      time.Duration // delay cap
	Attempts int           // total attempts including the first
}

// AdapterPolicy is the adapter-layer policy: 5 attempts, 2s base, 30s cap.
func AdapterPolicy() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 30 * time.Second, Attempts: 5}
}

// AgentPolicy is the agent-layer policy: 3 attempts, 2s base, 30s cap.
func AgentPolicy() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 30 * time.Second, Attempts: 3}
}

// Delay returns the backoff delay before the given retry (attempt 1 = first
// retry).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base << uint(attempt-1)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Do runs fn up to b.Attempts times, sleeping with exponential backoff after
// retryable failures. Non-retryable errors abort immediately. Exhaustion of
// retryable failures returns ErrTimeout wrapping the last error.
func Do(ctx context.Context, b Backoff, op string, fn func(context.Context) error) error {
	if b.Attempts < 1 {
		b.Attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if attempt > 1 {
			delay := b.Delay(attempt - 1)
			logging.TasksDebug("retry %s: attempt %d/%d after %v (last: %v)", op, attempt, b.Attempts, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%s exhausted %d attempts: %w: %w", op, b.Attempts, ErrTimeout, lastErr)
}

// DoValue is Do for functions returning a value.
func DoValue[T any](ctx context.Context, b Backoff, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, b, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// WithTimeout wraps fn with a wall-clock deadline. A deadline exceedance is
// converted into a retryable timeout so an outer Do can retry it.
func WithTimeout(d time.Duration, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if d <= 0 {
			return fn(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		err := fn(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return Transient(fmt.Errorf("%w: %w", ErrTimeout, err))
		}
		return err
	}
}

// DoTimed composes WithTimeout and Do: each attempt gets its own deadline.
func DoTimed(ctx context.Context, d time.Duration, b Backoff, op string, fn func(context.Context) error) error {
	return Do(ctx, b, op, WithTimeout(d, fn))
}
