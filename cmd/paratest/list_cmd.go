package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/paratest-dev/paratest/internal/model"
)

// listCmd prints the resolved Test Tree after filters without executing
// anything, grounded on cmd/tast/internal/list_cmd.go's dry-run listing,
// useful for debugging --shard/--grep selections.
type listCmd struct {
	filterFlags
}

func newListCmd() *listCmd { return &listCmd{} }

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list tests matching the given filters without running them" }
func (*listCmd) Usage() string {
	return "Usage: paratest list [flags]\n\nPrints every (spec, project) pairing the given filters select.\n"
}

func (l *listCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	_, tests, _, err := buildTree(&l.filterFlags, model.RunConfig{})
	if err != nil {
		fatalConfigError(err)
		return subcommands.ExitStatus(exitConfigError)
	}
	for _, t := range tests {
		fmt.Fprintf(os.Stdout, "%s > %s [%s]\n", t.Spec.File, t.Spec.Title, t.ProjectName())
	}
	fmt.Fprintf(os.Stdout, "%d tests\n", len(tests))
	return subcommands.ExitSuccess
}
