package errs_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/paratest-dev/paratest/internal/errs"
)

func TestErrorJoinsWrappedMessages(t *testing.T) {
	cause := errs.New("worker pool exhausted")
	wrapped := errs.Wrap(cause, "failed to spawn worker")
	if got, want := wrapped.Error(), "failed to spawn worker: worker pool exhausted"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errs.New("root cause")
	wrapped := errs.Wrap(cause, "context")
	if errs.Unwrap(wrapped) != cause {
		t.Error("Unwrap() did not return the original cause")
	}
}

func TestIsMatchesThroughWrapChain(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := errs.Wrap(sentinel, "outer context")
	if !errs.Is(wrapped, sentinel) {
		t.Error("Is() = false, want true: sentinel is the innermost cause")
	}
}

func TestFormatPlusVIncludesFullChain(t *testing.T) {
	inner := errs.New("inner failure")
	outer := errs.Wrap(inner, "outer failure")
	full := strings.TrimSpace(fmt.Sprintf("%+v", outer))
	if !strings.Contains(full, "outer failure") || !strings.Contains(full, "inner failure") {
		t.Errorf("%%+v output %q missing one of the chained messages", full)
	}
}
