package paratest

import (
	"context"
	"strconv"
	"testing"

	"github.com/paratest-dev/paratest/internal/model"
)

func TestDescribeNestsSuites(t *testing.T) {
	defer ResetForTesting()()

	Describe("outer", func() {
		It("top level spec", nil, func(context.Context, map[string]interface{}) error { return nil })
		Describe("inner", func() {
			It("nested spec", nil, func(context.Context, map[string]interface{}) error { return nil })
		})
	})

	root := Root()
	if len(root.Suites) != 1 || root.Suites[0].Title != "outer" {
		t.Fatalf("expected one top-level suite %q, got %+v", "outer", root.Suites)
	}
	outer := root.Suites[0]
	if len(outer.Specs) != 1 || outer.Specs[0].Title != "top level spec" {
		t.Fatalf("expected outer suite to hold the top-level spec, got %+v", outer.Specs)
	}
	if len(outer.Suites) != 1 || outer.Suites[0].Title != "inner" {
		t.Fatalf("expected a nested \"inner\" suite, got %+v", outer.Suites)
	}
	if len(outer.Suites[0].Specs) != 1 || outer.Suites[0].Specs[0].Title != "nested spec" {
		t.Fatalf("expected nested spec under inner suite, got %+v", outer.Suites[0].Specs)
	}
}

func TestItOptionsMutateSpec(t *testing.T) {
	defer ResetForTesting()()

	It("flaky thing", []string{"someFixture"},
		func(context.Context, map[string]interface{}) error { return nil },
		ExpectFailure(), WithRetries(3), Annotate("slow", "known slow"), Only())

	spec := Root().Specs[0]
	if spec.ExpectedStatus != model.StatusFailed {
		t.Errorf("ExpectedStatus = %v, want %v", spec.ExpectedStatus, model.StatusFailed)
	}
	if spec.RetriesOverride == nil || *spec.RetriesOverride != 3 {
		t.Errorf("RetriesOverride = %v, want 3", spec.RetriesOverride)
	}
	if len(spec.Annotations) != 1 || spec.Annotations[0].Type != "slow" {
		t.Errorf("Annotations = %+v, want one \"slow\" annotation", spec.Annotations)
	}
	if !spec.Only {
		t.Error("Only = false, want true")
	}
	if len(spec.FixtureRefs) != 1 || spec.FixtureRefs[0] != "someFixture" {
		t.Errorf("FixtureRefs = %v, want [someFixture]", spec.FixtureRefs)
	}
}

func TestDuplicateSpecIsARegistrationError(t *testing.T) {
	defer ResetForTesting()()

	register := func() {
		It("dup", nil, func(context.Context, map[string]interface{}) error { return nil })
	}
	// Both calls share the same call site, so they collide on the same
	// file:line:column spec key.
	for i := 0; i < 2; i++ {
		register()
	}
	if len(RegistrationErrors()) != 1 {
		t.Fatalf("RegistrationErrors() = %v, want exactly one error", RegistrationErrors())
	}
}

func TestLookupTrimsProjectSuffix(t *testing.T) {
	defer ResetForTesting()()

	called := false
	It("looked up", []string{"a", "b"}, func(context.Context, map[string]interface{}) error {
		called = true
		return nil
	})

	spec := Root().Specs[0]
	testID := spec.File + ":" + strconv.Itoa(spec.Line) + ":" + strconv.Itoa(spec.Column) + "#myproject"

	fn, refs, ok := Lookup(testID)
	if !ok {
		t.Fatalf("Lookup(%q) not found", testID)
	}
	if len(refs) != 2 || refs[0] != "a" || refs[1] != "b" {
		t.Errorf("fixtureRefs = %v, want [a b]", refs)
	}
	if err := fn(context.Background(), nil); err != nil {
		t.Errorf("fn returned error: %v", err)
	}
	if !called {
		t.Error("registered body was not the one returned by Lookup")
	}
}

func TestRegisterFixtureDuplicateRecordsError(t *testing.T) {
	defer ResetForTesting()()

	body := func(context.Context, map[string]interface{}) (interface{}, FixtureTeardown, error) {
		return nil, func(context.Context) error { return nil }, nil
	}
	RegisterFixture("dup", TestScope, nil, body)
	RegisterFixture("dup", TestScope, nil, body)

	if len(RegistrationErrors()) != 1 {
		t.Fatalf("RegistrationErrors() = %v, want exactly one DuplicateFixture error", RegistrationErrors())
	}
}
