// Package model defines the test/project/suite tree that results from
// loading user files (internal/loader), and the structures the dispatcher
// and report aggregator mutate and observe while driving a run.
//
// The tree is built once by the Loader before execution begins; afterwards
// only Test.Results is ever mutated, and only by appending.
package model

import (
	"fmt"
	"time"
)

// Status is the outcome of a single test attempt, or of a test's aggregate
// results after all attempts.
type Status string

// The statuses a Test or TestResult can settle into.
const (
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timedOut"
	StatusSkipped   Status = "skipped"
	StatusFlaky     Status = "flaky"
	StatusInterrupt Status = "interrupted"
)

// Location identifies where a test or suite was declared in source.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// Project is a named configuration applied to the discovered spec set. Every
// Spec is expanded into one Test per matching Project.
type Project struct {
	Name         string            `json:"name"`
	OutputDir    string            `json:"outputDir"`
	TestDir      string            `json:"testDir"`
	TestMatch    []string          `json:"testMatch"`
	TestIgnore   []string          `json:"testIgnore"`
	Timeout      time.Duration     `json:"timeout"`
	Retries      int               `json:"retries"`
	RepeatEach   int               `json:"repeatEach"`
	SnapshotDir  string            `json:"snapshotDir"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Suite is a nested container of specs, corresponding to a describe-style
// grouping within a single declaration file.
type Suite struct {
	File    string   `json:"file"`
	Title   string   `json:"title"`
	Suites  []*Suite `json:"suites,omitempty"`
	Specs   []*Spec  `json:"specs,omitempty"`
}

// Spec is a single registered test declaration, prior to per-project
// expansion.
type Spec struct {
	Title  string  `json:"title"`
	File   string  `json:"file"`
	Line   int     `json:"line"`
	Column int     `json:"column"`
	Tests  []*Test `json:"tests"`

	// Only marks the spec (or an ancestor suite) as having used an
	// exclusive-focus annotation; ForbidOnly construction fails if this is
	// set anywhere in the tree.
	Only bool `json:"-"`

	// FixtureRefs names the fixtures this spec's body and its ancestor
	// suites declared, in the order a resolver should consider them.
	FixtureRefs []string `json:"-"`

	// ExpectedStatus overrides the default "passed" expectation, for specs
	// registered as expected to fail. Empty means StatusPassed.
	ExpectedStatus Status `json:"-"`

	// RetriesOverride, if non-nil, replaces the owning Project's Retries for
	// every Test expanded from this spec.
	RetriesOverride *int `json:"-"`

	// Annotations carries free-form tags attached at registration time
	// (e.g. slow, known-flaky) onto every Test expanded from this spec.
	Annotations []Annotation `json:"-"`
}

// Annotation is a free-form tag attached to a test by its declaration
// (e.g. "slow", "flaky-known", skip reasons).
type Annotation struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Test is one (Spec, Project) pairing: the unit the dispatcher schedules.
type Test struct {
	Spec    *Spec    `json:"-"`
	Project *Project `json:"-"`

	// FixtureHash identifies the set of worker-scope fixtures this test
	// transitively requires, scoped to its owning project. Two tests may
	// share a worker if and only if their FixtureHash values are equal;
	// tests from different projects never compare equal even when their
	// fixture sets match, since a worker is bound to one project's config.
	FixtureHash string `json:"-"`

	Timeout         time.Duration `json:"timeout"`
	ExpectedStatus  Status        `json:"expectedStatus"`
	Annotations     []Annotation  `json:"annotations,omitempty"`
	Retries         int           `json:"-"`

	// Results is appended to by the dispatcher, one entry per attempt.
	// Never read concurrently with a write in-flight; see internal/dispatcher.
	Results []*TestResult `json:"results"`
}

// ID returns a stable identifier for this Test, unique within one Test Tree,
// used as the testId in the worker IPC protocol (§6.4) and to key result
// lookups in the dispatcher and report aggregator.
func (t *Test) ID() string {
	return fmt.Sprintf("%s:%d:%d#%s", t.Spec.File, t.Spec.Line, t.Spec.Column, t.ProjectName())
}

// ProjectName returns the owning project's name, or "" if unset.
func (t *Test) ProjectName() string {
	if t.Project == nil {
		return ""
	}
	return t.Project.Name
}

// FinalStatus computes the test's terminal status from its recorded
// attempts, per SPEC_FULL.md §3 and §8: the last attempt's status is final,
// except that a passing retry after an earlier failure reports "flaky"
// rather than "passed".
func (t *Test) FinalStatus() Status {
	if len(t.Results) == 0 {
		return StatusSkipped
	}
	last := t.Results[len(t.Results)-1]
	if last.Status != StatusPassed {
		return last.Status
	}
	for _, r := range t.Results[:len(t.Results)-1] {
		if r.Status != StatusPassed {
			return StatusFlaky
		}
	}
	return StatusPassed
}

// TestError describes a failure surfaced by a test or fixture body.
type TestError struct {
	Message string `json:"message,omitempty"`
	Value   string `json:"value,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Attachment is a named artifact a test produced (a screenshot, a log
// excerpt, a trace file) and wants included in its result.
type Attachment struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	MIMEType string `json:"contentType,omitempty"`
}

// TestResult is one attempt of a Test.
type TestResult struct {
	Attempt     int           `json:"attempt"`
	Retry       int           `json:"retry"`
	WorkerIndex int           `json:"workerIndex"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	Status      Status        `json:"status"`
	Error       *TestError    `json:"error,omitempty"`
	Stdout      []string      `json:"stdout,omitempty"`
	Stderr      []string      `json:"stderr,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// RunStatus is the terminal outcome of a whole dispatch, reported once via
// the Report Aggregator's onEnd hook (§4.7). It is a distinct enumeration
// from Status, which describes a single test attempt.
type RunStatus string

const (
	RunPassed      RunStatus = "passed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
	RunTimedOut    RunStatus = "timedout"
)

// Shard restricts a run to a fraction of the discovered tests.
type Shard struct {
	Current int // 1-based
	Total   int
}

// RunConfig holds the run-scoped knobs that govern a single dispatch, as
// opposed to the per-Project configuration baked into the Test Tree.
type RunConfig struct {
	// RunID uniquely identifies one dispatch, so artifacts written by
	// different reporters (the JSON report, log files, snapshot diffs) can
	// be correlated back to the run that produced them.
	RunID           string
	Workers         int
	ForbidOnly      bool
	Grep            string
	ProjectFilter   []string
	MaxFailures     int
	GlobalTimeout   time.Duration
	UpdateSnapshots bool
	Shard           *Shard
}
