package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
)

// singleFuncSource is a minimal TestSource for runOne-level tests that never
// need to look up more than one test id.
type singleFuncSource struct {
	fn   TestFunc
	refs []string
}

func (s singleFuncSource) Lookup(string) (TestFunc, []string, bool) {
	return s.fn, s.refs, true
}

func drainUntilTestEnd(t *testing.T, ch *ipc.Channel) *ipc.TestEnd {
	t.Helper()
	for {
		msg, err := ch.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if end, ok := msg.(*ipc.TestEnd); ok {
			return end
		}
	}
}

// These exercise runOne directly, bypassing Run's request loop, so the
// heartbeat ticker it starts never competes with a test's own deadline
// timers on the fakeclock - the same isolation deadline_test.go relies on
// when it single-steps a fake clock past one timer at a time.

func TestRunOneAttributesTeardownErrorToPassingTest(t *testing.T) {
	reg := fixture.NewRegistry()
	teardownErr := errors.New("close failed")
	if err := reg.Register("res", fixture.ScopeTest, nil,
		func(context.Context, map[string]interface{}) (interface{}, fixture.Teardown, error) {
			return nil, func(context.Context) error { return teardownErr }, nil
		}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	rt := New(reg, singleFuncSource{
		fn:   func(context.Context, map[string]interface{}) error { return nil },
		refs: []string{"res"},
	}, clk)
	rt.workerStack = fixture.NewStack(reg, nil)

	dispatcherSide, workerSide := ipc.NewInMemoryPair()
	defer dispatcherSide.Close()
	defer workerSide.Close()

	go func() { _, _ = rt.runOne(context.Background(), workerSide, &ipc.Run{TestID: "spec1", Timeout: time.Second}) }()

	end := drainUntilTestEnd(t, dispatcherSide)
	if end.Status != model.StatusFailed {
		t.Errorf("Status = %v, want failed", end.Status)
	}
	if end.Error == nil || end.Error.Message == "" {
		t.Error("Error is nil or empty, want the teardown failure attributed to the test")
	}
}

func TestRunOneAttributesTeardownTimeoutToPassingTest(t *testing.T) {
	reg := fixture.NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	if err := reg.Register("res", fixture.ScopeTest, nil,
		func(context.Context, map[string]interface{}) (interface{}, fixture.Teardown, error) {
			return nil, func(context.Context) error {
				close(started)
				<-release
				return nil
			}, nil
		}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	rt := New(reg, singleFuncSource{
		fn:   func(context.Context, map[string]interface{}) error { return nil },
		refs: []string{"res"},
	}, clk)
	rt.workerStack = fixture.NewStack(reg, nil)

	dispatcherSide, workerSide := ipc.NewInMemoryPair()
	defer dispatcherSide.Close()
	defer workerSide.Close()

	resultCh := make(chan *ipc.TestEnd, 1)
	go func() { _, _ = rt.runOne(context.Background(), workerSide, &ipc.Run{TestID: "spec1", Timeout: time.Second}) }()
	go func() { resultCh <- drainUntilTestEnd(t, dispatcherSide) }()

	<-started
	clk.WaitForWatcherAndIncrement(10 * time.Second)

	end := <-resultCh
	close(release)

	if end.Status != model.StatusFailed {
		t.Errorf("Status = %v, want failed", end.Status)
	}
	if end.Error == nil {
		t.Fatal("Error is nil, want the teardown timeout attributed to the test")
	}
}
