// Package fixture implements the fixture dependency resolver (SPEC_FULL.md
// C1): a registry of named, scoped fixtures, and the stacks that resolve a
// test's or worker's required fixtures in dependency order and tear them
// down in reverse.
//
// The continuation design note in SPEC_FULL.md §9 is realized here as a
// setup function that returns its published value together with a teardown
// closure, rather than as a single suspending function — the same split
// chromiumos/tast/internal/planner uses between FixtureImpl.SetUp and
// FixtureImpl.TearDown, collapsed into one call since this spec's fixtures
// have no separate Reset/PreTest/PostTest hooks.
package fixture

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/paratest-dev/paratest/internal/errs"
)

// Scope determines how long a fixture's instance lives.
type Scope int

const (
	// ScopeTest fixtures are instantiated per test and torn down when the
	// test ends.
	ScopeTest Scope = iota
	// ScopeWorker fixtures are instantiated once per worker process and
	// live across every test that worker runs, until the worker is
	// recycled.
	ScopeWorker
)

// String implements fmt.Stringer for diagnostics.
func (s Scope) String() string {
	switch s {
	case ScopeTest:
		return "test"
	case ScopeWorker:
		return "worker"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Teardown tears down whatever a Body published.
type Teardown func(ctx context.Context) error

// Body is the implementation of a fixture. It receives the resolved values
// of its declared dependencies, keyed by name, and returns the value it
// publishes to dependents along with a function to tear that value down.
//
// Returning a non-nil error aborts the fixture before it publishes; no
// Teardown is called, and every fixture that depends on it (directly or
// transitively) fails to resolve with the same error attributed to them.
type Body func(ctx context.Context, deps map[string]interface{}) (value interface{}, teardown Teardown, err error)

// Fixture is a named resource with setup/teardown, scoped to either a
// single test or a worker's lifetime.
type Fixture struct {
	Name  string
	Scope Scope
	Deps  []string
	Body  Body

	// defID identifies this particular definition of Name, so that
	// WorkerHash changes if the same name is ever registered with a
	// different implementation (e.g. across two builds of a bundle).
	defID string
}

// Registry holds named fixtures and resolves their dependency graph.
type Registry struct {
	fixtures map[string]*Fixture
}

// NewRegistry returns a new, empty fixture registry.
func NewRegistry() *Registry {
	return &Registry{fixtures: make(map[string]*Fixture)}
}

// Register adds a fixture to the registry.
//
// It fails with a DuplicateFixture-class error if name is already
// registered, and with an InvalidScope-class error if a worker-scope
// fixture declares a dependency on a test-scope one (test fixtures may
// depend on worker fixtures, never the reverse).
func (r *Registry) Register(name string, scope Scope, deps []string, body Body) error {
	if _, ok := r.fixtures[name]; ok {
		return errs.Errorf("DuplicateFixture: fixture %q already registered", name)
	}
	f := &Fixture{
		Name:  name,
		Scope: scope,
		Deps:  append([]string(nil), deps...),
		Body:  body,
		defID: fmt.Sprintf("%x", reflect.ValueOf(body).Pointer()),
	}
	r.fixtures[name] = f
	return r.validateScopes(f)
}

// validateScopes rejects a worker-scope fixture that depends, directly or
// transitively, on a test-scope fixture. It's checked eagerly at Register
// time for any dependency already known, and lazily again during Resolve
// for forward references.
func (r *Registry) validateScopes(f *Fixture) error {
	if f.Scope != ScopeWorker {
		return nil
	}
	for _, dep := range f.Deps {
		d, ok := r.fixtures[dep]
		if !ok {
			continue // dep not registered yet; re-checked during resolve
		}
		if d.Scope == ScopeTest {
			return errs.Errorf("InvalidScope: worker fixture %q depends on test fixture %q", f.Name, dep)
		}
	}
	return nil
}

// Lookup returns the fixture registered under name, if any.
func (r *Registry) Lookup(name string) (*Fixture, bool) {
	f, ok := r.fixtures[name]
	return f, ok
}

// WorkerHash computes a stable digest over the worker-scope fixtures
// transitively required by names (which may themselves be test- or
// worker-scope fixtures). Two tests whose required names produce the same
// WorkerHash may run in the same worker; see SPEC_FULL.md §3.
func (r *Registry) WorkerHash(names []string) (string, error) {
	visited := make(map[string]bool)
	var workerFixtures []*Fixture

	var walk func(name string, stack map[string]bool) error
	walk = func(name string, stack map[string]bool) error {
		if stack[name] {
			return errs.Errorf("CyclicFixture: dependency cycle at %q", name)
		}
		if visited[name] {
			return nil
		}
		f, ok := r.fixtures[name]
		if !ok {
			return errs.Errorf("fixture %q not registered", name)
		}
		stack[name] = true
		for _, dep := range f.Deps {
			if err := walk(dep, stack); err != nil {
				return err
			}
		}
		delete(stack, name)
		visited[name] = true
		if f.Scope == ScopeWorker {
			workerFixtures = append(workerFixtures, f)
		}
		return nil
	}

	for _, name := range names {
		if err := walk(name, map[string]bool{}); err != nil {
			return "", err
		}
	}

	sort.Slice(workerFixtures, func(i, j int) bool {
		return workerFixtures[i].Name < workerFixtures[j].Name
	})

	h := blake3.New()
	for _, f := range workerFixtures {
		fmt.Fprintf(h, "%s\x00%s\x00", f.Name, f.defID)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
