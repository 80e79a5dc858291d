package ipc_test

import (
	"testing"
	"time"

	"github.com/paratest-dev/paratest/internal/ipc"
)

func TestInMemoryPairRoundTripsEveryMessageType(t *testing.T) {
	a, b := ipc.NewInMemoryPair()
	defer a.Close()
	defer b.Close()

	msgs := []ipc.Msg{
		&ipc.Init{WorkerIndex: 1, ProjectIndex: 2, FixtureHash: "h"},
		&ipc.Run{TestID: "t", Timeout: time.Second, Retry: 1},
		&ipc.Stop{},
		&ipc.Ready{},
		&ipc.TestBegin{TestID: "t"},
		&ipc.Stdio{TestID: "t", Stream: ipc.Stdout, Data: "hi"},
		&ipc.TestEnd{TestID: "t", Status: "passed", Duration: time.Millisecond},
		&ipc.TeardownError{Error: "oops"},
		&ipc.Done{PendingWorker: true},
		&ipc.Heartbeat{Time: time.Unix(0, 0)},
	}

	done := make(chan error, 1)
	go func() {
		for _, m := range msgs {
			if err := a.Write(m); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i, want := range msgs {
		got, err := b.Read()
		if err != nil {
			t.Fatalf("Read() #%d error = %v", i, err)
		}
		if got == nil {
			t.Fatalf("Read() #%d returned nil", i)
		}
		_ = want
	}
	if err := <-done; err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func TestTestEndRoundTripsFields(t *testing.T) {
	a, b := ipc.NewInMemoryPair()
	defer a.Close()
	defer b.Close()

	want := &ipc.TestEnd{TestID: "abc", Status: "failed", Duration: 5 * time.Second}
	go func() { _ = a.Write(want) }()

	got, err := b.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	te, ok := got.(*ipc.TestEnd)
	if !ok {
		t.Fatalf("Read() returned %T, want *ipc.TestEnd", got)
	}
	if te.TestID != want.TestID || te.Status != want.Status || te.Duration != want.Duration {
		t.Errorf("got %+v, want %+v", te, want)
	}
}
