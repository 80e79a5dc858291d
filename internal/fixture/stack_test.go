package fixture_test

import (
	"context"
	"testing"

	"github.com/paratest-dev/paratest/internal/fixture"
)

func TestStackResolvesInDependencyOrderAndTearsDownInReverse(t *testing.T) {
	reg := fixture.NewRegistry()
	var order []string

	record := func(name string) fixture.Body {
		return func(ctx context.Context, deps map[string]interface{}) (interface{}, fixture.Teardown, error) {
			order = append(order, "setup:"+name)
			return name, func(context.Context) error {
				order = append(order, "teardown:"+name)
				return nil
			}, nil
		}
	}
	must := func(name string, scope fixture.Scope, deps []string) {
		t.Helper()
		if err := reg.Register(name, scope, deps, record(name)); err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}
	must("base", fixture.ScopeWorker, nil)
	must("derived", fixture.ScopeTest, []string{"base"})

	stack := fixture.NewStack(reg, nil)
	if err := stack.Ensure(context.Background(), []string{"derived"}); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if v, ok := stack.Value("derived"); !ok || v != "derived" {
		t.Errorf("Value(derived) = (%v, %v), want (\"derived\", true)", v, ok)
	}

	if errs := stack.TearDown(context.Background()); len(errs) != 0 {
		t.Fatalf("TearDown() errors = %v", errs)
	}

	want := []string{"setup:base", "setup:derived", "teardown:derived", "teardown:base"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestStackWorkerFixtureLivesInParentStack(t *testing.T) {
	reg := fixture.NewRegistry()
	calls := 0
	if err := reg.Register("shared", fixture.ScopeWorker, nil,
		func(context.Context, map[string]interface{}) (interface{}, fixture.Teardown, error) {
			calls++
			return calls, func(context.Context) error { return nil }, nil
		}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	worker := fixture.NewStack(reg, nil)
	if err := worker.Ensure(context.Background(), []string{"shared"}); err != nil {
		t.Fatalf("worker.Ensure() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		test := fixture.NewStack(reg, worker)
		if err := test.Ensure(context.Background(), []string{"shared"}); err != nil {
			t.Fatalf("test.Ensure() error = %v", err)
		}
		if _, ok := test.Value("shared"); !ok {
			t.Fatal("test stack could not see worker-scope value")
		}
		test.TearDown(context.Background())
	}
	if calls != 1 {
		t.Errorf("fixture body called %d times, want exactly 1 (instantiated once per worker, reused per test)", calls)
	}
}

func TestStackEnsurePropagatesSetupFailure(t *testing.T) {
	reg := fixture.NewRegistry()
	must := func(name string, deps []string, body fixture.Body) {
		if err := reg.Register(name, fixture.ScopeTest, deps, body); err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}
	must("broken", nil, func(context.Context, map[string]interface{}) (interface{}, fixture.Teardown, error) {
		return nil, nil, fixtureErr
	})
	must("dependent", []string{"broken"}, func(context.Context, map[string]interface{}) (interface{}, fixture.Teardown, error) {
		t.Fatal("dependent's body must not run when its dependency fails to set up")
		return nil, nil, nil
	})

	stack := fixture.NewStack(reg, nil)
	if err := stack.Ensure(context.Background(), []string{"dependent"}); err == nil {
		t.Fatal("Ensure() error = nil, want the broken fixture's error")
	}
}

var fixtureErr = &stackTestError{"setup failed"}

type stackTestError struct{ msg string }

func (e *stackTestError) Error() string { return e.msg }
