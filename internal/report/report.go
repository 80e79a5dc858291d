// Package report implements the Report Aggregator (SPEC_FULL.md C7): it
// receives the dispatcher's event stream and fans it out to one or more
// Reporter implementations, normalizing nothing beyond what the dispatcher
// already guarantees (per-test begin/stdio*/end contiguity, in emission
// order).
package report

import (
	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
)

// Reporter is the external interface built-in and user-supplied reporters
// implement. Its method set mirrors dispatcher.EventSink structurally (no
// import of internal/dispatcher is needed; Go's structural typing lets an
// *Aggregator satisfy that interface directly).
type Reporter interface {
	OnBegin(cfg model.RunConfig, tests []*model.Test)
	OnTestBegin(test *model.Test)
	OnStdio(test *model.Test, stream ipc.Stream, chunk string)
	OnTestEnd(test *model.Test, result *model.TestResult)
	OnEnd(status model.RunStatus)
}

// Aggregator fans every event out to a fixed set of Reporters, in order.
type Aggregator struct {
	Reporters []Reporter
}

// New returns an Aggregator forwarding to the given reporters.
func New(reporters ...Reporter) *Aggregator {
	return &Aggregator{Reporters: reporters}
}

func (a *Aggregator) OnBegin(cfg model.RunConfig, tests []*model.Test) {
	for _, r := range a.Reporters {
		r.OnBegin(cfg, tests)
	}
}

func (a *Aggregator) OnTestBegin(test *model.Test) {
	for _, r := range a.Reporters {
		r.OnTestBegin(test)
	}
}

func (a *Aggregator) OnStdio(test *model.Test, stream ipc.Stream, chunk string) {
	for _, r := range a.Reporters {
		r.OnStdio(test, stream, chunk)
	}
}

func (a *Aggregator) OnTestEnd(test *model.Test, result *model.TestResult) {
	for _, r := range a.Reporters {
		r.OnTestEnd(test, result)
	}
}

func (a *Aggregator) OnEnd(status model.RunStatus) {
	for _, r := range a.Reporters {
		r.OnEnd(status)
	}
}
