// Package loader is the Test Tree's external collaborator (SPEC_FULL.md
// §6.1, "out of scope for this spec" in the original but required for a
// runnable implementation): it turns the registrations test packages made
// against the root paratest package's init()-time API into the model.Suite
// tree and fixture.Registry that internal/testtree.Build expects as input,
// and exposes a worker.TestSource adapter over the same global state for
// cmd/paratest's worker-mode entry point.
//
// There is no dynamic file discovery here, unlike a Loader for a
// dynamically-typed original: a Go test binary links every test package it
// imports ahead of time, so "loading" is just reading back what those
// packages' init() functions already registered before main() runs.
package loader

import (
	"github.com/paratest-dev/paratest"
	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/fixture"
	"github.com/paratest-dev/paratest/internal/model"
	"github.com/paratest-dev/paratest/internal/worker"
)

// Load returns the suite tree and fixture registry assembled by every
// already-imported test package's registration calls. It fails with a
// RegistrationError-class error if any call to paratest.It or
// paratest.RegisterFixture reported a problem (duplicate name, invalid
// scope, etc).
func Load() (*model.Suite, *fixture.Registry, error) {
	if regErrs := paratest.RegistrationErrors(); len(regErrs) > 0 {
		return nil, nil, errs.Wrap(regErrs[0], "RegistrationError: test registration failed")
	}
	return paratest.Root(), paratest.Fixtures, nil
}

// Source adapts the global paratest registrations to worker.TestSource, for
// use by the worker-mode entry point cmd/paratest runs inside each spawned
// child process.
type Source struct{}

// Lookup implements worker.TestSource.
func (Source) Lookup(testID string) (worker.TestFunc, []string, bool) {
	return paratest.Lookup(testID)
}
