package logging_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/paratest-dev/paratest/internal/logging"
)

type recordingLogger struct {
	entries []string
}

func (r *recordingLogger) Log(level logging.Level, ts time.Time, msg string) {
	r.entries = append(r.entries, msg)
}

func TestMultiLoggerFansOutToEveryLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	ml := logging.NewMultiLogger(a, b)
	ml.Log(logging.LevelInfo, time.Now(), "hello")
	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Fatalf("a=%v b=%v, want one entry each", a.entries, b.entries)
	}
}

func TestMultiLoggerRemoveLoggerStopsDelivery(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	ml := logging.NewMultiLogger(a, b)
	if removed := ml.RemoveLogger(a); !removed {
		t.Error("RemoveLogger(a) = false, want true: a is registered")
	}
	ml.Log(logging.LevelInfo, time.Now(), "hello")
	if len(a.entries) != 0 {
		t.Errorf("a.entries = %v, want none after RemoveLogger", a.entries)
	}
	if len(b.entries) != 1 {
		t.Errorf("b.entries = %v, want one", b.entries)
	}
}

func TestMultiLoggerRemoveLoggerReportsWhetherItWasRegistered(t *testing.T) {
	a, stray := &recordingLogger{}, &recordingLogger{}
	ml := logging.NewMultiLogger(a)
	if removed := ml.RemoveLogger(stray); removed {
		t.Error("RemoveLogger(stray) = true, want false: stray was never added")
	}
}

func TestContextHelpersRoundTripLogger(t *testing.T) {
	r := &recordingLogger{}
	ctx := logging.NewContext(context.Background(), r)
	logging.Info(ctx, "count is ", 3)
	if len(r.entries) != 1 || r.entries[0] != "count is 3" {
		t.Errorf("entries = %v, want [\"count is 3\"]", r.entries)
	}
}

func TestInfoIsNoopWithoutAttachedLogger(t *testing.T) {
	// Must not panic when no logger is attached.
	logging.Info(context.Background(), "discarded")
}

func TestSinkLoggerFiltersBelowMinimumLevel(t *testing.T) {
	var lines []string
	sink := logging.NewFuncSink(func(msg string) { lines = append(lines, msg) })
	l := logging.NewSinkLogger(logging.LevelWarn, false, sink)

	l.Log(logging.LevelInfo, time.Now(), "too quiet")
	l.Log(logging.LevelWarn, time.Now(), "loud enough")

	if len(lines) != 1 || lines[0] != "loud enough" {
		t.Errorf("lines = %v, want exactly [\"loud enough\"]", lines)
	}
}

func TestSinkLoggerPrependsTimestampWhenEnabled(t *testing.T) {
	var lines []string
	sink := logging.NewFuncSink(func(msg string) { lines = append(lines, msg) })
	l := logging.NewSinkLogger(logging.LevelDebug, true, sink)

	l.Log(logging.LevelDebug, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), "hi")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "2026-01-02T03:04:05") || !strings.HasSuffix(lines[0], "hi") {
		t.Errorf("lines = %v, want a timestamp-prefixed entry", lines)
	}
}

func TestWriterSinkWritesOneLinePerEntry(t *testing.T) {
	var buf strings.Builder
	sink := logging.NewWriterSink(&buf)
	sink.Log("first")
	sink.Log("second")
	if got, want := buf.String(), "first\nsecond\n"; got != want {
		t.Errorf("buf = %q, want %q", got, want)
	}
}
