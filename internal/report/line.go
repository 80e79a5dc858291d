package report

import (
	"fmt"
	"io"

	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
)

// Line prints one overwritten progress line while tests run, then a final
// line per completed test, matching the teacher's CLI texture of a live,
// single-line status rewritten in place.
type Line struct {
	w      io.Writer
	total  int
	done   int
	widest int
}

// NewLine returns a Line reporter writing to w.
func NewLine(w io.Writer) *Line { return &Line{w: w} }

func (l *Line) OnBegin(_ model.RunConfig, tests []*model.Test) { l.total = len(tests) }

func (l *Line) OnTestBegin(test *model.Test) {
	label := fmt.Sprintf("[%d/%d] %s > %s", l.done+1, l.total, test.ProjectName(), test.Spec.Title)
	if len(label) > l.widest {
		l.widest = len(label)
	}
	fmt.Fprintf(l.w, "\r%-*s", l.widest, label)
}

func (l *Line) OnStdio(*model.Test, ipc.Stream, string) {}

func (l *Line) OnTestEnd(test *model.Test, result *model.TestResult) {
	l.done++
	fmt.Fprintf(l.w, "\r%-*s %s\n", l.widest, test.ProjectName()+" > "+test.Spec.Title, result.Status)
}

func (l *Line) OnEnd(status model.RunStatus) {
	fmt.Fprintf(l.w, "%d tests run, result: %s\n", l.done, status)
}
