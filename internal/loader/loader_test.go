package loader_test

import (
	"context"
	"testing"

	"github.com/paratest-dev/paratest"
	"github.com/paratest-dev/paratest/internal/loader"
)

func TestLoadReturnsRegisteredTree(t *testing.T) {
	defer paratest.ResetForTesting()()

	paratest.Describe("suite", func() {
		paratest.It("spec", nil, func(context.Context, map[string]interface{}) error { return nil })
	})

	root, reg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(root.Suites) != 1 || root.Suites[0].Title != "suite" {
		t.Fatalf("Load() root = %+v, want one \"suite\" suite", root)
	}
	if reg == nil {
		t.Fatal("Load() returned a nil fixture registry")
	}
}

func TestLoadSurfacesRegistrationErrors(t *testing.T) {
	defer paratest.ResetForTesting()()

	register := func() {
		paratest.It("dup", nil, func(context.Context, map[string]interface{}) error { return nil })
	}
	register()
	register()

	if _, _, err := loader.Load(); err == nil {
		t.Fatal("Load() error = nil, want a RegistrationError for the duplicate spec")
	}
}

func TestSourceLookupDelegatesToGlobalRegistry(t *testing.T) {
	defer paratest.ResetForTesting()()

	paratest.It("spec", []string{"dep"}, func(context.Context, map[string]interface{}) error { return nil })
	spec := paratest.Root().Specs[0]

	var src loader.Source
	_, refs, ok := src.Lookup(spec.File + ":1:1#proj")
	_ = refs
	if ok {
		t.Fatal("Lookup matched an unrelated testID built from a fixed line/column")
	}
}
