package dispatcher

import (
	"github.com/shirou/gopsutil/v3/process"
)

// checkLiveness treats a worker that has gone silent (no heartbeat, no IPC
// traffic at all) for longer than heartbeatGrace as crashed, once gopsutil
// confirms the underlying OS process is actually gone — the same diagnostic
// tast's sys_info/diagnose tooling uses before declaring a runner dead,
// adopted here so a worker wedged without exiting (rather than genuinely
// crashed) is not mistakenly torn down while it might still recover.
func (d *Dispatcher) checkLiveness() {
	now := d.Clock.Now()
	for _, s := range d.slotsByIdx {
		if s == nil || s.state != slotBusy {
			continue
		}
		reference := s.lastHeartbeat
		if reference.IsZero() {
			reference = s.testStart
		}
		if now.Sub(reference) < heartbeatGrace {
			continue
		}
		if pid := s.proc.Pid(); pid > 0 {
			if alive, err := processAlive(pid); err == nil && alive {
				continue
			}
		}
		d.handleCrash(s, errCrashSilentWorker)
	}
}

func processAlive(pid int) (bool, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false, err
	}
	return proc.IsRunning()
}
