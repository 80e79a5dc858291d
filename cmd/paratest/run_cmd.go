package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/subcommands"
	"github.com/oklog/ulid/v2"

	"github.com/paratest-dev/paratest/internal/dispatcher"
	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/model"
	"github.com/paratest-dev/paratest/internal/report"
)

// runCmd implements subcommands.Command, the default command: resolve the
// Test Tree and drive it to completion through a Dispatcher, the way
// chromiumos/tast/cmd/tast's runCmd wraps run.Run.
type runCmd struct {
	filterFlags

	workers         int
	timeoutMS       int64
	retries         int
	reporters       string
	outputDir       string
	maxFailures     int
	globalTimeoutMS int64
	updateSnapshots bool
}

func newRunCmd() *runCmd { return &runCmd{} }

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run tests" }
func (*runCmd) Usage() string {
	return "Usage: paratest run [flags]\n\nDiscovers and runs every registered spec matching the given filters.\n"
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	r.filterFlags.SetFlags(f)
	f.IntVar(&r.workers, "workers", 0, "worker pool size (0 uses the config file's value, or 1)")
	f.Int64Var(&r.timeoutMS, "timeout", 0, "per-test timeout in milliseconds (0 uses each project's own)")
	f.IntVar(&r.retries, "retries", -1, "retry count override (-1 leaves each project's own)")
	f.StringVar(&r.reporters, "reporter", "line", "comma-separated reporter list: dot,line,list,json,junit")
	f.StringVar(&r.outputDir, "output", "", "directory for json/junit report files")
	f.IntVar(&r.maxFailures, "max-failures", 0, "stop after this many non-retried failures (0 disables)")
	f.Int64Var(&r.globalTimeoutMS, "global-timeout", 0, "abort the whole run after this many milliseconds (0 disables)")
	f.BoolVar(&r.updateSnapshots, "update-snapshots", false, "recorded in the run config; no snapshot comparison is performed")
}

func (r *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	runCfg := model.RunConfig{
		// A ULID rather than tast's result-dir timestamp (20060102-150405):
		// it stays unique even when two runs start within the same second,
		// while remaining lexically sortable by start time like the
		// timestamp it replaces.
		RunID:           ulid.Make().String(),
		Workers:         r.workers,
		MaxFailures:     r.maxFailures,
		GlobalTimeout:   time.Duration(r.globalTimeoutMS) * time.Millisecond,
		UpdateSnapshots: r.updateSnapshots,
	}
	if runCfg.Workers == 0 {
		// Fall back to the config file's workers setting; buildTree below
		// reports any error loading the file.
		if cfgFile, err := loadConfig(r.configPath); err == nil {
			runCfg.Workers = cfgFile.Workers
		}
	}

	root, tests, _, err := buildTree(&r.filterFlags, runCfg)
	if err != nil {
		fatalConfigError(err)
		return subcommands.ExitStatus(exitConfigError)
	}
	applyPerTestOverrides(tests, r.timeoutMS, r.retries)

	if len(tests) == 0 {
		fmt.Fprintln(os.Stderr, "paratest: no tests matched the given filters")
		return subcommands.ExitStatus(exitConfigError)
	}

	sink, closeSink, err := buildReporters(r.reporters, r.outputDir, root)
	if err != nil {
		fatalConfigError(err)
		return subcommands.ExitStatus(exitConfigError)
	}
	defer closeSink()

	spawner := &dispatcher.ProcessSpawner{Path: mustExecutable()}
	d := dispatcher.New(tests, runCfg, spawner, sink, clock.NewClock())

	status, err := d.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "paratest: %+v\n", err)
		return subcommands.ExitStatus(exitConfigError)
	}

	switch status {
	case model.RunPassed:
		return subcommands.ExitSuccess
	case model.RunInterrupted:
		return subcommands.ExitStatus(exitInterrupted)
	default:
		return subcommands.ExitFailure
	}
}

// Exit codes, per SPEC_FULL.md §6.5.
const (
	exitInterrupted = 2
	exitConfigError = 3
)

func applyPerTestOverrides(tests []*model.Test, timeoutMS int64, retries int) {
	for _, t := range tests {
		if timeoutMS > 0 {
			t.Timeout = time.Duration(timeoutMS) * time.Millisecond
		}
		if retries >= 0 {
			t.Retries = retries
		}
	}
}

// buildReporters constructs the aggregator backing dispatcher.EventSink from
// a comma-separated reporter list, opening json/junit output files under
// outputDir (created if necessary) and returning a function to close them.
func buildReporters(spec string, outputDir string, root *model.Suite) (dispatcher.EventSink, func(), error) {
	var reporters []report.Reporter
	var closers []func() error

	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "", "none":
		case "dot":
			reporters = append(reporters, report.NewDot(os.Stdout))
		case "line":
			reporters = append(reporters, report.NewLine(os.Stdout))
		case "list":
			l := report.NewList(os.Stdout)
			l.Root = root
			reporters = append(reporters, l)
		case "json":
			w, closeFn, err := openReportFile(outputDir, "report.json")
			if err != nil {
				return nil, nil, err
			}
			j := report.NewJSON(w)
			j.Root = root
			reporters = append(reporters, j)
			closers = append(closers, closeFn)
		case "junit":
			w, closeFn, err := openReportFile(outputDir, "report.xml")
			if err != nil {
				return nil, nil, err
			}
			reporters = append(reporters, report.NewJUnit(w))
			closers = append(closers, closeFn)
		default:
			return nil, nil, errs.Errorf("ConfigError: unknown reporter %q", name)
		}
	}

	agg := report.New(reporters...)
	return agg, func() {
		for _, c := range closers {
			_ = c()
		}
	}, nil
}

func openReportFile(outputDir, name string) (*os.File, func() error, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(filepath.Join(outputDir, name))
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func mustExecutable() string {
	path, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return path
}
