// Package worker implements the Worker Runtime (SPEC_FULL.md C4): the
// request loop that runs inside a single child process, instantiating
// fixtures on demand, executing assigned tests under a Deadline Runner, and
// streaming events back to the dispatcher over an IPC Channel.
package worker

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/paratest-dev/paratest/internal/deadline"
	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/logging"
	"github.com/paratest-dev/paratest/internal/model"
)

// stackTracer is implemented by internal/errs.E; errors returned by test and
// fixture bodies built with errs carry their own capture site, which is
// worth surfacing in model.TestError.Stack separately from the message.
type stackTracer interface {
	StackTrace() string
}

// newTestError builds a model.TestError from err, attaching a stack trace
// when err (or something in its chain) exposes one.
func newTestError(err error) *model.TestError {
	te := &model.TestError{Message: err.Error()}
	var st stackTracer
	if errs.As(err, &st) {
		te.Stack = st.StackTrace()
	}
	return te
}

// teardownFloor is the minimum extra time granted to test-scope fixture
// teardown after a test's own deadline has passed, mirroring the
// exitTimeout grace tast's planner grants test-related funcs to exit.
const teardownFloor = 5 * time.Second

// TestFunc is a test body, as supplied by the external Loader. deps holds
// the resolved values of the test's declared fixture dependencies, keyed by
// name.
type TestFunc func(ctx context.Context, deps map[string]interface{}) error

// TestSource resolves a testId (as sent in an ipc.Run message) to its body
// and the names of the fixtures it depends on. It stands in for the
// out-of-scope Loader from the worker's point of view.
type TestSource interface {
	Lookup(testID string) (fn TestFunc, fixtureRefs []string, ok bool)
}

// Runtime is a single worker's execution state. It is created fresh in each
// child process.
type Runtime struct {
	Registry *fixture.Registry
	Source   TestSource
	Clock    clock.Clock

	workerIndex  int
	projectIndex int
	fixtureHash  string
	workerStack  *fixture.Stack
}

// New creates a Runtime. clk may be nil to use the real wall clock.
func New(reg *fixture.Registry, src TestSource, clk clock.Clock) *Runtime {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Runtime{Registry: reg, Source: src, Clock: clk}
}

// Run executes the worker's request loop against ch until the parent sends
// Stop, the channel is disconnected, or an unrecoverable error occurs. It
// implements the exit causes enumerated in SPEC_FULL.md §4.4.
func (rt *Runtime) Run(ctx context.Context, ch *ipc.Channel) error {
	msg, err := ch.Read()
	if err != nil {
		return errs.Wrap(err, "worker: failed to read init message")
	}
	initMsg, ok := msg.(*ipc.Init)
	if !ok {
		return errs.Errorf("worker: expected init, got %T", msg)
	}
	rt.workerIndex = initMsg.WorkerIndex
	rt.projectIndex = initMsg.ProjectIndex
	rt.fixtureHash = initMsg.FixtureHash
	rt.workerStack = fixture.NewStack(rt.Registry, nil)

	if err := ch.Write(&ipc.Ready{}); err != nil {
		return errs.Wrap(err, "worker: failed to send ready")
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go rt.emitHeartbeats(hbCtx, ch)

	for {
		msg, err := ch.Read()
		if err != nil {
			// Parent death (broken pipe): exit immediately without
			// attempting worker-scope teardown, per §4.4.
			return errs.Wrap(err, "worker: channel disconnected")
		}
		switch m := msg.(type) {
		case *ipc.Stop:
			rt.workerStack.TearDown(ctx)
			return ch.Write(&ipc.Done{})
		case *ipc.Run:
			discard, err := rt.runOne(ctx, ch, m)
			if err != nil {
				return err
			}
			if discard {
				if err := ch.Write(&ipc.Done{PendingWorker: true}); err != nil {
					return err
				}
				// Wait for the parent's Stop before exiting cleanly; the
				// worker is retired either way once this returns.
				for {
					msg, err := ch.Read()
					if err != nil {
						return err
					}
					if _, ok := msg.(*ipc.Stop); ok {
						rt.workerStack.TearDown(ctx)
						return ch.Write(&ipc.Done{})
					}
				}
			}
		default:
			return errs.Errorf("worker: unexpected message %T", msg)
		}
	}
}

// heartbeatInterval governs how often a worker asserts liveness; the
// dispatcher's gopsutil-backed health check (SPEC_FULL.md §4.4) treats a
// worker silent for 2x this interval with no live OS process as crashed.
const heartbeatInterval = 5 * time.Second

func (rt *Runtime) emitHeartbeats(ctx context.Context, ch *ipc.Channel) {
	ticker := rt.Clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C():
			if err := ch.Write(&ipc.Heartbeat{Time: t}); err != nil {
				return
			}
		}
	}
}

// runOne executes a single assigned test and reports its outcome. It
// returns discard=true if the worker must be retired after this test
// (policy: one failure per worker, per SPEC_FULL.md §4.4).
func (rt *Runtime) runOne(ctx context.Context, ch *ipc.Channel, run *ipc.Run) (discard bool, err error) {
	if run.FixtureHash != rt.fixtureHash {
		return true, ch.Write(&ipc.TestEnd{
			TestID: run.TestID,
			Status: model.StatusFailed,
			Error: &model.TestError{Message: fmt.Sprintf(
				"HashMismatch: worker bound to %q, test requires %q", rt.fixtureHash, run.FixtureHash)},
		})
	}

	fn, fixtureRefs, ok := rt.Source.Lookup(run.TestID)
	if !ok {
		return true, ch.Write(&ipc.TestEnd{
			TestID: run.TestID,
			Status: model.StatusFailed,
			Error:  &model.TestError{Message: fmt.Sprintf("unknown test id %q", run.TestID)},
		})
	}

	if err := ch.Write(&ipc.TestBegin{TestID: run.TestID}); err != nil {
		return true, err
	}

	sink := &stdioSink{ch: ch, testID: run.TestID, stream: ipc.Stdout}
	logCtx := logging.NewContext(ctx, logging.NewSinkLogger(logging.LevelDebug, false, sink))

	start := rt.Clock.Now()
	deadlineAt := start.Add(run.Timeout)
	if run.Timeout <= 0 {
		deadlineAt = start.Add(24 * time.Hour) // effectively unbounded
	}

	testStack := fixture.NewStack(rt.Registry, rt.workerStack)

	var status model.Status
	var testErr *model.TestError

	// Ensure worker-scope fixtures required by this test are instantiated
	// before the test-scope fixtures and body run; failures here are
	// reported against the test, matching tast's FixtureStack semantics
	// where a red fixture stack causes dependents to be reported as
	// errored without running.
	setupOutcome := deadline.Run(logCtx, rt.Clock, deadlineAt, func(ctx context.Context) (interface{}, error) {
		return nil, testStack.Ensure(ctx, fixtureRefs)
	})

	switch {
	case setupOutcome.TimedOut:
		status = model.StatusTimedOut
		testErr = &model.TestError{Message: "fixture setup did not return before timeout"}
	case setupOutcome.Panic != nil:
		status = model.StatusFailed
		testErr = &model.TestError{Message: fmt.Sprintf("panic during fixture setup: %v", setupOutcome.Panic)}
	case setupOutcome.Err != nil:
		status = model.StatusFailed
		testErr = newTestError(setupOutcome.Err)
	default:
		deps := make(map[string]interface{}, len(fixtureRefs))
		for _, name := range fixtureRefs {
			v, _ := testStack.Value(name)
			deps[name] = v
		}
		outcome := deadline.Run(logCtx, rt.Clock, deadlineAt, func(ctx context.Context) (interface{}, error) {
			return nil, fn(ctx, deps)
		})
		switch {
		case outcome.TimedOut:
			status = model.StatusTimedOut
			testErr = &model.TestError{Message: "test did not return before timeout"}
		case outcome.Panic != nil:
			status = model.StatusFailed
			testErr = &model.TestError{Message: fmt.Sprintf("panic: %v", outcome.Panic)}
		case outcome.Err != nil:
			status = model.StatusFailed
			testErr = newTestError(outcome.Err)
		default:
			status = model.StatusPassed
		}
	}

	// Tear down test-scope fixtures under an extended deadline, per
	// SPEC_FULL.md §4.4 step 5.
	teardownDeadline := deadline.Extend(deadlineAt, rt.Clock, teardownFloor)
	teardownOutcome := deadline.Run(logCtx, rt.Clock, teardownDeadline, func(ctx context.Context) (interface{}, error) {
		errsOut := testStack.TearDown(ctx)
		if len(errsOut) > 0 {
			return nil, errsOut[0]
		}
		return nil, nil
	})
	if testErr == nil {
		// A teardown failure or hang on an otherwise-passing test is
		// attributed to the test, per the Open Question resolution in
		// DESIGN.md: the test has left observable side effects behind either
		// way, so it cannot be reported as having passed cleanly.
		switch {
		case teardownOutcome.TimedOut:
			status = model.StatusFailed
			testErr = &model.TestError{Message: "fixture teardown did not return before its extended deadline"}
		case teardownOutcome.Err != nil:
			status = model.StatusFailed
			testErr = newTestError(errs.Wrap(teardownOutcome.Err, "fixture teardown failed"))
		}
	}

	duration := rt.Clock.Now().Sub(start)
	if err := ch.Write(&ipc.TestEnd{
		TestID:   run.TestID,
		Status:   status,
		Error:    testErr,
		Duration: duration,
	}); err != nil {
		return true, err
	}

	return status != model.StatusPassed, nil
}

// stdioSink forwards log lines produced while a test runs to the dispatcher
// as ipc.Stdio messages, so they can be attributed to the right test and
// attempt even though they arrive interleaved with protocol traffic.
type stdioSink struct {
	ch     *ipc.Channel
	testID string
	stream ipc.Stream
}

func (s *stdioSink) Log(msg string) {
	// Best effort: a failure writing a log line must not abort the test.
	_ = s.ch.Write(&ipc.Stdio{TestID: s.testID, Stream: s.stream, Data: msg})
}
