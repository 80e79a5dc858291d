package dispatcher

import (
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
)

// fakeProcHandle is a minimal ProcessHandle recording whether Kill was
// called, used to test checkDrainTimeouts without spawning a real or
// in-process worker.
type fakeProcHandle struct {
	killed bool
}

func (h *fakeProcHandle) Wait() error { return nil }
func (h *fakeProcHandle) Kill() error { h.killed = true; return nil }
func (h *fakeProcHandle) Pid() int    { return 0 }

// TestCheckDrainTimeoutsKillsWorkerPastDrainGrace exercises the fix for a
// worker that stops responding after being told to Stop: without a grace
// timer, d.retiring[s] stays set forever and Run never reaps the slot.
func TestCheckDrainTimeoutsKillsWorkerPastDrainGrace(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	proc := &fakeProcHandle{}
	slot := &workerSlot{idx: 0, proc: proc, stopDeadline: clk.Now().Add(drainGrace)}

	d := &Dispatcher{Clock: clk, retiring: map[*workerSlot]bool{slot: true}}

	d.checkDrainTimeouts()
	if proc.killed {
		t.Fatal("Kill called before drainGrace elapsed")
	}

	clk.Increment(drainGrace)
	d.checkDrainTimeouts()
	if !proc.killed {
		t.Error("Kill not called once drainGrace elapsed")
	}
	if !slot.killed {
		t.Error("slot.killed not set once drainGrace elapsed")
	}

	proc.killed = false
	d.checkDrainTimeouts()
	if proc.killed {
		t.Error("Kill called a second time on an already-killed slot")
	}
}

// TestCheckDrainTimeoutsLeavesCooperativeExitAlone confirms a slot with no
// stopDeadline (retired without being sent Stop) is never touched.
func TestCheckDrainTimeoutsLeavesCooperativeExitAlone(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	proc := &fakeProcHandle{}
	slot := &workerSlot{idx: 0, proc: proc}

	d := &Dispatcher{Clock: clk, retiring: map[*workerSlot]bool{slot: true}}

	clk.Increment(24 * time.Hour)
	d.checkDrainTimeouts()
	if proc.killed {
		t.Error("Kill called on a slot with no stopDeadline")
	}
}
