package deadline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/paratest-dev/paratest/internal/deadline"
)

func TestRunReturnsValueBeforeDeadline(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	out := deadline.Run(context.Background(), clk, clk.Now().Add(time.Hour), func(context.Context) (interface{}, error) {
		return 42, nil
	})
	if out.TimedOut {
		t.Fatal("TimedOut = true, want false")
	}
	if out.Value != 42 {
		t.Errorf("Value = %v, want 42", out.Value)
	}
}

func TestRunPropagatesError(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	wantErr := errors.New("boom")
	out := deadline.Run(context.Background(), clk, clk.Now().Add(time.Hour), func(context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if out.Err != wantErr {
		t.Errorf("Err = %v, want %v", out.Err, wantErr)
	}
}

func TestRunTimesOutAndDiscardsLateResult(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	started := make(chan struct{})
	release := make(chan struct{})

	resultCh := make(chan deadline.Outcome, 1)
	go func() {
		resultCh <- deadline.Run(context.Background(), clk, clk.Now().Add(time.Second), func(context.Context) (interface{}, error) {
			close(started)
			<-release
			return "too late", nil
		})
	}()

	<-started
	clk.WaitForWatcherAndIncrement(2 * time.Second)

	out := <-resultCh
	if !out.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	close(release)
}

func TestRunRecoversPanic(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	out := deadline.Run(context.Background(), clk, clk.Now().Add(time.Hour), func(context.Context) (interface{}, error) {
		panic("kaboom")
	})
	if out.Panic != "kaboom" {
		t.Errorf("Panic = %v, want \"kaboom\"", out.Panic)
	}
}

func TestExtendGrantsAtLeastFloor(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	past := clk.Now().Add(-time.Minute)
	extended := deadline.Extend(past, clk, 5*time.Second)
	if got := extended.Sub(clk.Now()); got != 5*time.Second {
		t.Errorf("Extend() granted %v, want the 5s floor", got)
	}
}
