package dispatcher

import (
	"context"

	"code.cloudfoundry.org/clock"

	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/worker"
)

// InProcessSpawner runs each worker as a goroutine sharing the dispatcher's
// own process, wired to it through an in-memory pipe (ipc.NewInMemoryPair).
// It exists so dispatcher and end-to-end tests can exercise the full
// scheduling algorithm without paying for real subprocess start-up, the same
// tradeoff chromiumos/tast/internal/planner's tests make by running bundles
// in-process against a fake runner rather than forking real ones.
type InProcessSpawner struct {
	Registry *fixture.Registry
	Source   worker.TestSource
	Clock    clock.Clock
}

// Spawn starts a new worker.Runtime in a goroutine and returns the
// dispatcher-facing end of its channel.
func (s *InProcessSpawner) Spawn(ctx context.Context, workerIndex int) (*ipc.Channel, ProcessHandle, error) {
	dispatcherSide, workerSide := ipc.NewInMemoryPair()

	h := &inProcessHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		rt := worker.New(s.Registry, s.Source, s.Clock)
		h.err = rt.Run(ctx, workerSide)
		_ = workerSide.Close()
	}()

	return dispatcherSide, h, nil
}

type inProcessHandle struct {
	done chan struct{}
	err  error
}

func (h *inProcessHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *inProcessHandle) Kill() error {
	// There is no real process to signal; the worker goroutine exits on its
	// own once its channel is closed or it observes ctx cancellation.
	return nil
}

func (h *inProcessHandle) Pid() int { return 0 }
