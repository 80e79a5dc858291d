package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
)

// List prints the full nested suite/spec tree with each test's final status
// appended, once the run ends. Root must be set (the Loader's output, after
// testtree.Build has expanded it in place with Tests) for the nesting to be
// printed; without it List falls back to a flat listing of the tests it
// observed.
type List struct {
	w     io.Writer
	Root  *model.Suite
	tests []*model.Test
}

// NewList returns a List reporter writing to w.
func NewList(w io.Writer) *List { return &List{w: w} }

func (l *List) OnBegin(_ model.RunConfig, tests []*model.Test) { l.tests = tests }
func (l *List) OnTestBegin(*model.Test)                        {}
func (l *List) OnStdio(*model.Test, ipc.Stream, string)        {}
func (l *List) OnTestEnd(*model.Test, *model.TestResult)       {}

func (l *List) OnEnd(model.RunStatus) {
	if l.Root != nil {
		printSuite(l.w, l.Root, 0)
		return
	}
	for _, t := range l.tests {
		fmt.Fprintf(l.w, "%s > %s [%s] %s\n", t.Spec.File, t.Spec.Title, t.ProjectName(), t.FinalStatus())
	}
}

func printSuite(w io.Writer, s *model.Suite, depth int) {
	indent := strings.Repeat("  ", depth)
	if s.Title != "" {
		fmt.Fprintf(w, "%s%s\n", indent, s.Title)
	}
	for _, spec := range s.Specs {
		fmt.Fprintf(w, "%s  %s\n", indent, spec.Title)
		for _, t := range spec.Tests {
			fmt.Fprintf(w, "%s    [%s] %s\n", indent, t.ProjectName(), t.FinalStatus())
		}
	}
	for _, child := range s.Suites {
		printSuite(w, child, depth+1)
	}
}
