// Package errs provides basic utilities to construct errors.
//
// Use this package rather than the standard library's errors.New/fmt.Errorf
// when constructing errors inside the runner: it records stack traces and
// chained causes, which end up in run logs when the dispatcher or a worker
// fails unexpectedly.
//
// Simple usage
//
//	errs.New("worker pool exhausted")
//	errs.Errorf("fixture %q not registered", name)
//
// To add context to an existing error, use Wrap or Wrapf.
//
//	errs.Wrap(err, "failed to spawn worker")
//	errs.Wrapf(err, "failed to tear down fixture %q", name)
package errs

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paratest-dev/paratest/internal/errs/stack"
)

// E is the error implementation used by this package.
type E struct {
	msg   string
	stk   stack.Stack
	cause error
}

// Error implements the error interface.
func (e *E) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap implements the error Unwrap interface.
func (e *E) Unwrap() error {
	return e.cause
}

// StackTrace returns the human-readable stack trace captured at the point
// this error was constructed, independent of any wrapped cause. Callers that
// need to attach a trace to a structured field (rather than folding it into
// a formatted "%+v" chain) can type-assert for this method.
func (e *E) StackTrace() string {
	return e.stk.String()
}

type unwrapper interface {
	unwrap() (msg string, stk stack.Stack, cause error)
}

func (e *E) unwrap() (msg string, stk stack.Stack, cause error) {
	return e.msg, e.stk, e.cause
}

func formatChain(err error) string {
	var chain []string
	for err != nil {
		if e, ok := err.(unwrapper); ok {
			msg, stk, cause := e.unwrap()
			chain = append(chain, fmt.Sprintf("%s\n%v", msg, stk))
			err = cause
		} else {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			err = nil
		}
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter. The "%+v" verb prints the full error chain
// with stack traces.
func (e *E) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
	} else {
		io.WriteString(s, e.Error())
	}
}

// New creates a new error with the given message, recording the call site.
func New(msg string) *E {
	return &E{msg, stack.New(1), nil}
}

// Errorf creates a new error with a formatted message, recording the call site.
func Errorf(format string, args ...interface{}) *E {
	return &E{fmt.Sprintf(format, args...), stack.New(1), nil}
}

// Wrap creates a new error with the given message, wrapping cause.
func Wrap(cause error, msg string) *E {
	return &E{msg, stack.New(1), cause}
}

// Wrapf creates a new error with a formatted message, wrapping cause.
func Wrapf(cause error, format string, args ...interface{}) *E {
	return &E{fmt.Sprintf(format, args...), stack.New(1), cause}
}

// Unwrap wraps the standard library's errors.Unwrap.
func Unwrap(err error) error { return errors.Unwrap(err) }

// As wraps the standard library's errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is wraps the standard library's errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }
