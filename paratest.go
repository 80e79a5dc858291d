// Package paratest is the public surface test files import to register
// suites, specs, and fixtures, mirroring the way chromiumos/tast/testing
// wraps its internal registry behind a small AddTest-style API called from
// each test file's init(). Unlike tast's flat per-bundle registry, this
// package builds a nested Suite tree, since the spec's Describe-style
// grouping has no equivalent in tast's category/bundle naming scheme.
//
// Every call here is expected to happen during package initialization,
// before internal/loader.Load is invoked by cmd/paratest.
package paratest

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/model"
	"github.com/paratest-dev/paratest/internal/worker"
)

// TestFunc is the body of a registered spec.
type TestFunc = worker.TestFunc

// FixtureBody is the implementation of a registered fixture.
type FixtureBody = fixture.Body

// FixtureTeardown tears down whatever a FixtureBody published.
type FixtureTeardown = fixture.Teardown

// FixtureScope determines how long a fixture's instance lives.
type FixtureScope = fixture.Scope

// The two fixture scopes, re-exported for callers that don't want to import
// internal/fixture directly.
const (
	TestScope   = fixture.ScopeTest
	WorkerScope = fixture.ScopeWorker
)

var (
	mu          sync.Mutex
	root        = &model.Suite{}
	suiteStack  = []*model.Suite{root}
	bodies      = map[string]TestFunc{}
	fixtureRefs = map[string][]string{}
	regErrs     []error

	// Fixtures is the global fixture registry populated by RegisterFixture.
	Fixtures = fixture.NewRegistry()
)

// Describe opens a named suite, runs fn with it as the current suite, then
// closes it. Describe blocks may nest arbitrarily.
func Describe(title string, fn func()) {
	_, file, _, _ := runtime.Caller(1)

	mu.Lock()
	s := &model.Suite{Title: title, File: file}
	parent := suiteStack[len(suiteStack)-1]
	parent.Suites = append(parent.Suites, s)
	suiteStack = append(suiteStack, s)
	mu.Unlock()

	fn()

	mu.Lock()
	suiteStack = suiteStack[:len(suiteStack)-1]
	mu.Unlock()
}

// SpecOption customizes a spec registered via It.
type SpecOption func(*model.Spec)

// ExpectFailure marks a spec as expected to fail; the dispatcher still runs
// it normally, but its FinalStatus is compared against StatusFailed rather
// than StatusPassed when a report wants to flag unexpected outcomes.
func ExpectFailure() SpecOption {
	return func(s *model.Spec) { s.ExpectedStatus = model.StatusFailed }
}

// WithRetries overrides the owning Project's Retries for one spec.
func WithRetries(n int) SpecOption {
	return func(s *model.Spec) { s.RetriesOverride = &n }
}

// Annotate attaches a free-form tag to every Test expanded from a spec.
func Annotate(kind, description string) SpecOption {
	return func(s *model.Spec) {
		s.Annotations = append(s.Annotations, model.Annotation{Type: kind, Description: description})
	}
}

// Only marks a spec with an exclusive-focus annotation. A run with
// RunConfig.ForbidOnly set fails fast if any Only survives to Build, the
// same guard rail CI pipelines use against an accidentally committed focus.
func Only() SpecOption {
	return func(s *model.Spec) { s.Only = true }
}

// It registers a single test. deps names the fixtures (test- or
// worker-scope) the body requires; their resolved values are passed to body
// keyed by name. It must be called synchronously from within (directly or
// through nested closures) a package's init(), with Describe blocks
// providing the enclosing suite structure.
func It(title string, deps []string, body TestFunc, opts ...SpecOption) {
	_, file, line, _ := runtime.Caller(1)

	spec := &model.Spec{
		Title:       title,
		File:        file,
		Line:        line,
		Column:      1,
		FixtureRefs: append([]string(nil), deps...),
	}
	for _, opt := range opts {
		opt(spec)
	}

	mu.Lock()
	defer mu.Unlock()

	key := specKey(spec)
	if _, exists := bodies[key]; exists {
		regErrs = append(regErrs, errs.Errorf("%s:%d: test %q registered more than once", file, line, title))
		return
	}

	parent := suiteStack[len(suiteStack)-1]
	parent.Specs = append(parent.Specs, spec)
	bodies[key] = body
	fixtureRefs[key] = spec.FixtureRefs
}

// RegisterFixture adds a fixture to the global registry, recording a
// registration error (surfaced by RegistrationErrors) instead of panicking
// if name collides with an earlier registration.
func RegisterFixture(name string, scope FixtureScope, deps []string, body FixtureBody) {
	mu.Lock()
	defer mu.Unlock()
	if err := Fixtures.Register(name, scope, deps, body); err != nil {
		regErrs = append(regErrs, err)
	}
}

// specKey is a spec's identity independent of any project, i.e. model.Test's
// ID with the "#project" suffix removed.
func specKey(spec *model.Spec) string {
	return fmt.Sprintf("%s:%d:%d", spec.File, spec.Line, spec.Column)
}

// Lookup resolves a model.Test.ID()-shaped testID to its registered body and
// fixture dependencies, trimming the trailing "#project" component to
// recover the spec key. It backs internal/loader.Source, the
// worker.TestSource implementation cmd/paratest's worker mode uses.
func Lookup(testID string) (TestFunc, []string, bool) {
	key := testID
	if i := strings.LastIndex(testID, "#"); i >= 0 {
		key = testID[:i]
	}

	mu.Lock()
	defer mu.Unlock()
	fn, ok := bodies[key]
	if !ok {
		return nil, nil, false
	}
	return fn, fixtureRefs[key], true
}

// Root returns the suite tree built so far.
func Root() *model.Suite {
	mu.Lock()
	defer mu.Unlock()
	return root
}

// RegistrationErrors returns every error recorded by It or RegisterFixture.
func RegistrationErrors() []error {
	mu.Lock()
	defer mu.Unlock()
	return append([]error(nil), regErrs...)
}

// ResetForTesting clears every global registration and returns a function
// that restores the prior state, for tests that need an isolated registry
// the way tast's SetGlobalRegistryForTesting lets unit tests avoid polluting
// the real global registry.
func ResetForTesting() (restore func()) {
	mu.Lock()
	origRoot, origStack := root, suiteStack
	origBodies, origRefs := bodies, fixtureRefs
	origErrs, origFixtures := regErrs, Fixtures

	root = &model.Suite{}
	suiteStack = []*model.Suite{root}
	bodies = map[string]TestFunc{}
	fixtureRefs = map[string][]string{}
	regErrs = nil
	Fixtures = fixture.NewRegistry()
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		root, suiteStack = origRoot, origStack
		bodies, fixtureRefs = origBodies, origRefs
		regErrs, Fixtures = origErrs, origFixtures
	}
}
