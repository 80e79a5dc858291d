package report

import (
	"encoding/json"
	"io"

	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
)

// jsonReport is the top-level shape from SPEC_FULL.md §6.3. Field order
// here is the serialized field order. The emitted report survives a
// decode/encode/decode round trip unchanged, which report_test.go checks
// with go-cmp.
type jsonReport struct {
	Config model.RunConfig   `json:"config"`
	Suites []jsonSuite       `json:"suites"`
	Errors []*model.TestError `json:"errors"`
}

type jsonSuite struct {
	Title  string      `json:"title"`
	File   string      `json:"file"`
	Specs  []jsonSpec  `json:"specs,omitempty"`
	Suites []jsonSuite `json:"suites,omitempty"`
}

type jsonSpec struct {
	Title  string     `json:"title"`
	File   string     `json:"file"`
	Line   int        `json:"line"`
	Column int        `json:"column"`
	Tests  []jsonTest `json:"tests"`
}

type jsonTest struct {
	ProjectName    string             `json:"projectName"`
	ExpectedStatus model.Status       `json:"expectedStatus"`
	Timeout        int64              `json:"timeout"`
	Annotations    []model.Annotation `json:"annotations,omitempty"`
	Results        []jsonResult       `json:"results"`
}

type jsonResult struct {
	WorkerIndex int              `json:"workerIndex"`
	Status      model.Status     `json:"status"`
	Duration    int64            `json:"duration"`
	Error       *model.TestError `json:"error,omitempty"`
	Stdout      []string         `json:"stdout,omitempty"`
	Stderr      []string         `json:"stderr,omitempty"`
	Attempt     int              `json:"attempt"`
	Retry       int              `json:"retry"`
}

// JSON writes the SPEC_FULL.md §6.3 report schema once the run ends. Root
// should be set to the Loader's suite tree, mutated in place by
// testtree.Build, so the emitted tree reflects every discovered suite even
// if a filter excluded some of its specs from this run.
type JSON struct {
	w      io.Writer
	Root   *model.Suite
	cfg    model.RunConfig
	tests  []*model.Test
	errors []*model.TestError

	stdout map[string][]string
	stderr map[string][]string
}

// NewJSON returns a JSON reporter writing to w.
func NewJSON(w io.Writer) *JSON {
	return &JSON{w: w, stdout: make(map[string][]string), stderr: make(map[string][]string)}
}

func (j *JSON) OnBegin(cfg model.RunConfig, tests []*model.Test) {
	j.cfg = cfg
	j.tests = tests
}

func (j *JSON) OnTestBegin(*model.Test) {}

func (j *JSON) OnStdio(test *model.Test, stream ipc.Stream, chunk string) {
	switch stream {
	case ipc.Stderr:
		j.stderr[test.ID()] = append(j.stderr[test.ID()], chunk)
	default:
		j.stdout[test.ID()] = append(j.stdout[test.ID()], chunk)
	}
}

func (j *JSON) OnTestEnd(test *model.Test, result *model.TestResult) {
	result.Stdout = j.stdout[test.ID()]
	result.Stderr = j.stderr[test.ID()]
	delete(j.stdout, test.ID())
	delete(j.stderr, test.ID())
}

func (j *JSON) OnEnd(model.RunStatus) {
	report := jsonReport{Config: j.cfg, Errors: j.errors}
	if j.Root != nil {
		report.Suites = []jsonSuite{buildJSONSuite(j.Root)}
	}
	enc := json.NewEncoder(j.w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func buildJSONSuite(s *model.Suite) jsonSuite {
	out := jsonSuite{Title: s.Title, File: s.File}
	for _, spec := range s.Specs {
		out.Specs = append(out.Specs, buildJSONSpec(spec))
	}
	for _, child := range s.Suites {
		out.Suites = append(out.Suites, buildJSONSuite(child))
	}
	return out
}

func buildJSONSpec(spec *model.Spec) jsonSpec {
	out := jsonSpec{Title: spec.Title, File: spec.File, Line: spec.Line, Column: spec.Column}
	for _, t := range spec.Tests {
		out.Tests = append(out.Tests, buildJSONTest(t))
	}
	return out
}

func buildJSONTest(t *model.Test) jsonTest {
	out := jsonTest{
		ProjectName:    t.ProjectName(),
		ExpectedStatus: t.ExpectedStatus,
		Timeout:        int64(t.Timeout),
		Annotations:    t.Annotations,
	}
	for _, r := range t.Results {
		out.Results = append(out.Results, jsonResult{
			WorkerIndex: r.WorkerIndex,
			Status:      r.Status,
			Duration:    int64(r.Duration),
			Error:       r.Error,
			Stdout:      r.Stdout,
			Stderr:      r.Stderr,
			Attempt:     r.Attempt,
			Retry:       r.Retry,
		})
	}
	return out
}
