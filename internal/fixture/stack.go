package fixture

import (
	"context"

	"github.com/paratest-dev/paratest/internal/errs"
)

// resolvedFixture records the outcome of instantiating one fixture.
type resolvedFixture struct {
	fixt     *Fixture
	value    interface{}
	teardown Teardown
	err      error // set if the fixture body failed before publishing
}

// Stack resolves a set of required fixtures in dependency order and tears
// them down, in reverse order, at scope end. A test-scope Stack is created
// with a worker-scope Stack as its parent so it can resolve dependencies on
// already-instantiated worker fixtures without re-running their bodies.
type Stack struct {
	reg    *Registry
	parent *Stack

	resolved map[string]*resolvedFixture
	order    []string // instantiation order, for reverse teardown
}

// NewStack creates a new, empty resolution stack. parent may be nil for a
// worker-scope stack, or the worker's stack when creating a test-scope one.
func NewStack(reg *Registry, parent *Stack) *Stack {
	return &Stack{
		reg:      reg,
		parent:   parent,
		resolved: make(map[string]*resolvedFixture),
	}
}

// Value returns the published value of an already-resolved fixture, looking
// in this stack and then its ancestors.
func (s *Stack) Value(name string) (interface{}, bool) {
	if rf, ok := s.resolved[name]; ok && rf.err == nil {
		return rf.value, true
	}
	if s.parent != nil {
		return s.parent.Value(name)
	}
	return nil, false
}

// Ensure instantiates every fixture transitively required by names that is
// not already resolved in this stack or an ancestor, in topological order.
// Fixtures already owned by an ancestor stack (typically worker-scope
// fixtures visible to a test-scope stack) are left alone.
//
// A failure instantiating any fixture on the path aborts the whole batch:
// every fixture that depends on the failed one, directly or transitively,
// is recorded as unusable and Ensure returns the originating error.
func (s *Stack) Ensure(ctx context.Context, names []string) error {
	visiting := make(map[string]bool)
	for _, name := range names {
		if err := s.ensureOne(ctx, name, visiting); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) ensureOne(ctx context.Context, name string, visiting map[string]bool) error {
	if _, ok := s.Value(name); ok {
		return nil
	}
	if rf, ok := s.resolved[name]; ok {
		return rf.err // already attempted and failed
	}
	if visiting[name] {
		return errs.Errorf("CyclicFixture: dependency cycle at %q", name)
	}
	f, ok := s.reg.Lookup(name)
	if !ok {
		return errs.Errorf("fixture %q not registered", name)
	}
	if f.Scope == ScopeWorker && s.parent != nil {
		// Worker-scope fixtures always live in the worker stack, never in
		// a per-test stack layered on top of it.
		return s.parent.ensureOne(ctx, name, visiting)
	}
	if err := s.reg.validateScopes(f); err != nil {
		return err
	}

	visiting[name] = true
	deps := make(map[string]interface{}, len(f.Deps))
	for _, dep := range f.Deps {
		if err := s.ensureOne(ctx, dep, visiting); err != nil {
			s.resolved[name] = &resolvedFixture{fixt: f, err: err}
			s.order = append(s.order, name)
			delete(visiting, name)
			return err
		}
		v, _ := s.Value(dep)
		deps[dep] = v
	}
	delete(visiting, name)

	value, teardown, err := f.Body(ctx, deps)
	s.resolved[name] = &resolvedFixture{fixt: f, value: value, teardown: teardown, err: err}
	s.order = append(s.order, name)
	if err != nil {
		return errs.Wrapf(err, "fixture %q failed to set up", name)
	}
	return nil
}

// TearDown runs teardown for every fixture this stack (not its ancestors)
// instantiated, in reverse instantiation order. It collects rather than
// stops at the first error, since later fixtures' teardown should still run
// even if an earlier one (in reverse order, i.e. a more-recently-set-up
// fixture) fails — matching SPEC_FULL.md §4.1: "a teardown failure is
// reported but does not mask test outcome."
func (s *Stack) TearDown(ctx context.Context) []error {
	var errsOut []error
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		rf := s.resolved[name]
		if rf.err != nil || rf.teardown == nil {
			continue
		}
		if err := rf.teardown(ctx); err != nil {
			errsOut = append(errsOut, errs.Wrapf(err, "fixture %q failed to tear down", name))
		}
	}
	s.order = nil
	s.resolved = make(map[string]*resolvedFixture)
	return errsOut
}
