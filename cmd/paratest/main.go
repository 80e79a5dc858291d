// Command paratest discovers and runs specs registered against the root
// paratest package, the way chromiumos/tast/cmd/tast drives tests registered
// against chromiumos/tast/testing's global registry.
//
// A real deployment's main package blank-imports whatever packages register
// specs, the same way a tast test bundle's main blank-imports its category
// packages; examples/smoke is wired in here so the binary is runnable
// out of the box.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/subcommands"

	"code.cloudfoundry.org/clock"

	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/loader"
	"github.com/paratest-dev/paratest/internal/worker"

	_ "github.com/paratest-dev/paratest/examples/smoke"
)

// workerIndexFlagPrefix is the hidden flag dispatcher.ProcessSpawner
// prepends when re-exec'ing this binary as a worker child. It's parsed by
// hand, ahead of the subcommands dispatch, since a worker child is not one
// of the user-facing subcommands.
const workerIndexFlagPrefix = "--paratest-worker-index="

func main() {
	if len(os.Args) > 1 && strings.HasPrefix(os.Args[1], workerIndexFlagPrefix) {
		os.Exit(runWorker(os.Args[1][len(workerIndexFlagPrefix):]))
	}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newRunCmd(), "")
	subcommands.Register(newListCmd(), "")

	ctx, cancel := context.WithCancel(context.Background())
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sc
		cancel()
	}()

	os.Exit(int(subcommands.Execute(ctx)))
}

// runWorker drives the Worker Runtime against the process's own stdin and
// stdout, the transport dispatcher.ProcessSpawner's child end expects.
// workerIndex is currently unused beyond what ipc.Init carries over the
// wire; it's accepted here only so the flag parses cleanly.
func runWorker(workerIndexArg string) int {
	if _, err := strconv.Atoi(workerIndexArg); err != nil {
		fmt.Fprintf(os.Stderr, "paratest: invalid worker index %q\n", workerIndexArg)
		return exitConfigError
	}

	root, reg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "paratest: %+v\n", err)
		return exitConfigError
	}
	_ = root // the worker only needs the fixture registry and test bodies

	ch := ipc.NewChannel(os.Stdin, os.Stdout, nil)
	rt := worker.New(reg, loader.Source{}, clock.NewClock())
	if err := rt.Run(context.Background(), ch); err != nil {
		fmt.Fprintf(os.Stderr, "paratest: worker exited: %+v\n", err)
		return exitConfigError
	}
	return 0
}
