package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
	"github.com/paratest-dev/paratest/internal/worker"
)

type fakeSource struct {
	fns  map[string]worker.TestFunc
	refs map[string][]string
}

func (s *fakeSource) Lookup(testID string) (worker.TestFunc, []string, bool) {
	fn, ok := s.fns[testID]
	return fn, s.refs[testID], ok
}

func runWorker(t *testing.T, reg *fixture.Registry, src worker.TestSource, fixtureHash string, run *ipc.Run) (*ipc.TestEnd, *ipc.Done) {
	t.Helper()
	dispatcherSide, workerSide := ipc.NewInMemoryPair()
	defer dispatcherSide.Close()

	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	rt := worker.New(reg, src, clk)

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background(), workerSide) }()

	if err := dispatcherSide.Write(&ipc.Init{WorkerIndex: 0, FixtureHash: fixtureHash}); err != nil {
		t.Fatalf("Write(Init) error = %v", err)
	}
	if msg, err := dispatcherSide.Read(); err != nil {
		t.Fatalf("Read() for Ready error = %v", err)
	} else if _, ok := msg.(*ipc.Ready); !ok {
		t.Fatalf("first message = %T, want *ipc.Ready", msg)
	}

	if err := dispatcherSide.Write(run); err != nil {
		t.Fatalf("Write(Run) error = %v", err)
	}

	var testEnd *ipc.TestEnd
	var retireDone *ipc.Done
readLoop:
	for {
		msg, err := dispatcherSide.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		switch m := msg.(type) {
		case *ipc.TestBegin, *ipc.Heartbeat, *ipc.Stdio:
			continue
		case *ipc.TestEnd:
			testEnd = m
		case *ipc.Done:
			// The worker retired itself after a failing test (discard
			// policy) and is now waiting for Stop before exiting.
			retireDone = m
			break readLoop
		}
		if testEnd != nil && retireDone == nil {
			// Passed: the worker went back to its request loop without
			// sending Done. Stop it explicitly to collect the run.
			break readLoop
		}
	}

	if err := dispatcherSide.Write(&ipc.Stop{}); err != nil {
		t.Fatalf("Write(Stop) error = %v", err)
	}
	msg, err := dispatcherSide.Read()
	if err != nil {
		t.Fatalf("Read() for final Done error = %v", err)
	}
	finalDone, ok := msg.(*ipc.Done)
	if !ok {
		t.Fatalf("final message = %T, want *ipc.Done", msg)
	}
	_ = retireDone

	<-done
	return testEnd, finalDone
}

func TestRuntimeRunsPassingTest(t *testing.T) {
	reg := fixture.NewRegistry()
	src := &fakeSource{fns: map[string]worker.TestFunc{
		"spec1": func(context.Context, map[string]interface{}) error { return nil },
	}}

	end, _ := runWorker(t, reg, src, "", &ipc.Run{TestID: "spec1", Timeout: time.Second})
	if end.Status != model.StatusPassed {
		t.Errorf("Status = %v, want passed", end.Status)
	}
}

func TestRuntimeReportsTestBodyError(t *testing.T) {
	reg := fixture.NewRegistry()
	wantErr := errors.New("boom")
	src := &fakeSource{fns: map[string]worker.TestFunc{
		"spec1": func(context.Context, map[string]interface{}) error { return wantErr },
	}}

	end, _ := runWorker(t, reg, src, "", &ipc.Run{TestID: "spec1", Timeout: time.Second})
	if end.Status != model.StatusFailed {
		t.Errorf("Status = %v, want failed", end.Status)
	}
	if end.Error == nil || end.Error.Message == "" {
		t.Error("Error is nil or empty, want the body's error message")
	}
}

func TestRuntimeAttachesStackTraceFromErrsError(t *testing.T) {
	reg := fixture.NewRegistry()
	src := &fakeSource{fns: map[string]worker.TestFunc{
		"spec1": func(context.Context, map[string]interface{}) error { return errs.New("boom") },
	}}

	end, _ := runWorker(t, reg, src, "", &ipc.Run{TestID: "spec1", Timeout: time.Second})
	if end.Status != model.StatusFailed {
		t.Fatalf("Status = %v, want failed", end.Status)
	}
	if end.Error == nil || end.Error.Stack == "" {
		t.Error("Error.Stack is empty, want a captured stack trace from the errs.E cause")
	}
}

func TestRuntimeRejectsFixtureHashMismatch(t *testing.T) {
	reg := fixture.NewRegistry()
	src := &fakeSource{fns: map[string]worker.TestFunc{
		"spec1": func(context.Context, map[string]interface{}) error { return nil },
	}}

	end, _ := runWorker(t, reg, src, "workerHash", &ipc.Run{TestID: "spec1", FixtureHash: "differentHash", Timeout: time.Second})
	if end.Status != model.StatusFailed {
		t.Errorf("Status = %v, want failed", end.Status)
	}
}

func TestRuntimeResolvesFixtureDeps(t *testing.T) {
	reg := fixture.NewRegistry()
	if err := reg.Register("greeting", fixture.ScopeTest, nil,
		func(context.Context, map[string]interface{}) (interface{}, fixture.Teardown, error) {
			return "hello", func(context.Context) error { return nil }, nil
		}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var seen interface{}
	src := &fakeSource{
		fns: map[string]worker.TestFunc{
			"spec1": func(ctx context.Context, deps map[string]interface{}) error {
				seen = deps["greeting"]
				return nil
			},
		},
		refs: map[string][]string{"spec1": {"greeting"}},
	}

	end, _ := runWorker(t, reg, src, "", &ipc.Run{TestID: "spec1", Timeout: time.Second})
	if end.Status != model.StatusPassed {
		t.Fatalf("Status = %v, want passed", end.Status)
	}
	if seen != "hello" {
		t.Errorf("deps[\"greeting\"] = %v, want \"hello\"", seen)
	}
}
