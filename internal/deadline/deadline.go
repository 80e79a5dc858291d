// Package deadline implements the Deadline Runner (SPEC_FULL.md C3): it
// races an asynchronous operation against a monotonic deadline, yielding a
// result or a timeout without forcibly cancelling the operation.
//
// The two-goroutine handshake below is grounded directly on
// chromiumos/tast/internal/planner's safeCall/runStages: a background
// goroutine calls into the operation while the caller races a timer against
// it, and an atomic compare-and-swap token decides whether the caller or the
// background goroutine "wins", so a panic or late completion that arrives
// after the caller has already moved on is safely discarded rather than
// racing with the next test.
package deadline

import (
	"context"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/paratest-dev/paratest/internal/errs"
)

// Outcome is the result of racing an operation against a deadline.
type Outcome struct {
	// TimedOut is true if the deadline elapsed before the operation
	// returned. Value and Err are unset in that case.
	TimedOut bool
	Value    interface{}
	Err      error
	// Panic holds the recovered panic value, if the operation panicked
	// before the deadline was reached.
	Panic interface{}
}

// Func is the operation raced against a deadline. It receives a context
// bound to the deadline so well-behaved operations can observe cancellation
// themselves; the runner does not depend on that, however.
type Func func(ctx context.Context) (interface{}, error)

// Run races f against deadline, an absolute point in time measured by clk.
// If f returns (or panics) before deadline, Run returns its outcome. If
// deadline elapses first, Run returns {TimedOut: true} immediately; f is
// left running in the background and its eventual result is discarded.
func Run(ctx context.Context, clk clock.Clock, deadline time.Time, f Func) Outcome {
	if clk == nil {
		clk = clock.NewClock()
	}

	var token uint32
	takeToken := func() bool {
		return atomic.CompareAndSwapUint32(&token, 0, 1)
	}

	done := make(chan Outcome, 1)

	go func() {
		var out Outcome
		defer func() {
			val := recover()
			if !takeToken() {
				return // the caller already returned via timeout
			}
			if val != nil {
				out.Panic = val
			}
			done <- out
		}()
		out.Value, out.Err = f(ctx)
	}()

	timer := clk.NewTimer(deadline.Sub(clk.Now()))
	defer timer.Stop()

	select {
	case out := <-done:
		return out
	case <-timer.C():
		if takeToken() {
			return Outcome{TimedOut: true}
		}
		// The background goroutine already won the race between our
		// timer firing and its completion; take its real result.
		return <-done
	}
}

// Extend computes a new deadline from the remaining time until deadline
// (which may be negative if deadline has already passed), raised to at least
// floor and measured from clk's current time, so that teardown is always
// granted at least floor.
func Extend(deadline time.Time, clk clock.Clock, floor time.Duration) time.Time {
	if clk == nil {
		clk = clock.NewClock()
	}
	remaining := deadline.Sub(clk.Now())
	if remaining < floor {
		remaining = floor
	}
	return clk.Now().Add(remaining)
}

// ErrAbandoned is returned by callers that choose to surface a timeout as an
// error rather than as a distinct Outcome field.
var ErrAbandoned = errs.New("operation did not return before its deadline")
