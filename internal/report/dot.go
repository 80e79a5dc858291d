package report

import (
	"fmt"
	"io"

	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
)

// Dot prints one character per test attempt, then a one-line summary.
type Dot struct {
	w     io.Writer
	tests []*model.Test
}

// NewDot returns a Dot reporter writing to w.
func NewDot(w io.Writer) *Dot { return &Dot{w: w} }

func (d *Dot) OnBegin(_ model.RunConfig, tests []*model.Test) { d.tests = tests }
func (d *Dot) OnTestBegin(*model.Test)                        {}
func (d *Dot) OnStdio(*model.Test, ipc.Stream, string)        {}

func (d *Dot) OnTestEnd(_ *model.Test, result *model.TestResult) {
	switch result.Status {
	case model.StatusPassed:
		fmt.Fprint(d.w, ".")
	case model.StatusSkipped:
		fmt.Fprint(d.w, "-")
	case model.StatusTimedOut:
		fmt.Fprint(d.w, "T")
	default:
		fmt.Fprint(d.w, "F")
	}
}

func (d *Dot) OnEnd(status model.RunStatus) {
	fmt.Fprintln(d.w)
	var passed, failed, flaky, skipped int
	for _, t := range d.tests {
		switch t.FinalStatus() {
		case model.StatusPassed:
			passed++
		case model.StatusFlaky:
			flaky++
		case model.StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	fmt.Fprintf(d.w, "%d passed, %d failed, %d flaky, %d skipped (%s)\n", passed, failed, flaky, skipped, status)
}
