// Package ctxutil provides convenience functions for working with
// context.Context deadlines, used by the deadline runner and dispatcher to
// extend or shorten a test's remaining time budget.
package ctxutil

import (
	"context"
	"math"
	"time"
)

// MaxTimeout is the maximum value of time.Duration, approximately 290 years.
// Passing it to context.WithTimeout effectively leaves a deadline unset.
const MaxTimeout time.Duration = math.MaxInt64

// OptionalTimeout returns a context derived from ctx with the given timeout
// applied, unless timeout is zero or negative, in which case no new deadline
// is imposed.
func OptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Shorten returns a context derived from ctx with its deadline brought
// forward by d. If ctx has no deadline, neither does the result.
func Shorten(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, dl.Add(-d))
}

// Extend returns a context derived from ctx with its deadline pushed back by
// d, used to grant fixture teardown extra time beyond a test's own deadline.
// If ctx has no deadline, neither does the result.
func Extend(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, dl.Add(d))
}

// DeadlineBefore reports whether ctx has a deadline earlier than t.
func DeadlineBefore(ctx context.Context, t time.Time) bool {
	dl, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return dl.Before(t)
}
