// Package poll implements the bounded fixed-interval polling primitive used
// for every asynchronous readiness wait in the control plane: service health,
// index visibility, document counts, and query answerability all go through
// the same Wait loop so that timeout semantics are identical everywhere.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/alpaca-search/alpacactl/internal/ctxlog"
)

// Outcome classifies a single predicate evaluation.
type Outcome int

const (
	// NotYet means the condition was observable but not yet true.
	NotYet Outcome = iota
	// Ready means the condition holds and polling stops successfully.
	Ready
	// TransientError means the condition could not be evaluated, e.g. a
	// connection refused while the target service is still starting up.
	// It consumes an attempt like NotYet and never short-circuits the loop.
	TransientError
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case NotYet:
		return "not-yet"
	case TransientError:
		return "transient-error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Predicate evaluates a readiness condition once. On Ready the returned value
// is handed back to the caller of Wait. The error return is diagnostic only:
// it is recorded as the last observed state but does not abort polling.
type Predicate[T any] func(ctx context.Context) (Outcome, T, error)

// Budget bounds a polling loop: at most MaxAttempts evaluations, sleeping
// Interval between them. The interval is fixed rather than exponential; the
// wait windows here are tens of seconds and backoff buys nothing.
type Budget struct {
	MaxAttempts int
	Interval    time.Duration
}

// TimeoutError reports that a readiness condition never became true within
// its budget. LastState carries the most recent raw observation so failures
// are diagnosable without re-running.
type TimeoutError struct {
	Condition string
	Attempts  int
	LastState string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition %q not met after %d attempts (last state: %s)", e.Condition, e.Attempts, e.LastState)
}

// Wait evaluates pred until it reports Ready or the budget is exhausted.
// It evaluates at most budget.MaxAttempts times and sleeps budget.Interval
// between evaluations. A cancelled context ends the wait early with the
// context's error.
func Wait[T any](ctx context.Context, condition string, pred Predicate[T], budget Budget) (T, error) {
	logger := ctxlog.FromContext(ctx).With("condition", condition)

	var zero T
	if budget.MaxAttempts <= 0 {
		return zero, fmt.Errorf("polling budget for %q must allow at least one attempt", condition)
	}

	lastState := "never evaluated"
	for attempt := 1; attempt <= budget.MaxAttempts; attempt++ {
		outcome, value, err := pred(ctx)
		if outcome == Ready {
			logger.Debug("Condition met.", "attempt", attempt)
			return value, nil
		}

		lastState = outcome.String()
		if err != nil {
			lastState = fmt.Sprintf("%s: %v", outcome, err)
		}
		logger.Debug("Condition not met yet.", "attempt", attempt, "max_attempts", budget.MaxAttempts, "state", lastState)

		if attempt == budget.MaxAttempts {
			break
		}
		if err := sleep(ctx, budget.Interval); err != nil {
			return zero, err
		}
	}

	return zero, &TimeoutError{Condition: condition, Attempts: budget.MaxAttempts, LastState: lastState}
}

// sleep blocks for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
