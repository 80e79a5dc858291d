//go:build !windows

package dispatcher

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/ipc"
)

// ProcessSpawner spawns each worker as a real OS subprocess: a re-exec of
// the current binary with WorkerArgs appended, communicating over its
// stdin/stdout. Each child is placed in its own process group so a drain
// that exceeds its grace period can be force-terminated as a unit (killing
// any descendants a test itself spawned), mirroring how tast's
// local_test_runner/remote_test_runner invocations are torn down.
type ProcessSpawner struct {
	// Path is the executable to run; typically os.Args[0].
	Path string
	// WorkerArgs is appended after a --paratest-worker-index=N flag this
	// spawner adds itself.
	WorkerArgs []string
	Env        []string
}

func (s *ProcessSpawner) Spawn(ctx context.Context, workerIndex int) (*ipc.Channel, ProcessHandle, error) {
	args := append([]string{"--paratest-worker-index=" + strconv.Itoa(workerIndex)}, s.WorkerArgs...)
	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Env = s.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, errs.Wrap(err, "dispatcher: creating worker stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errs.Wrap(err, "dispatcher: creating worker stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, errs.Wrap(err, "dispatcher: starting worker process")
	}

	ch := ipc.NewChannel(stdout, stdin, stdin)
	return ch, &osProcessHandle{cmd: cmd}, nil
}

type osProcessHandle struct {
	cmd *exec.Cmd
}

func (h *osProcessHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *osProcessHandle) Kill() error {
	pgid, err := unix.Getpgid(h.cmd.Process.Pid)
	if err != nil {
		return h.cmd.Process.Kill()
	}
	if err := unix.Kill(-pgid, syscall.SIGKILL); err != nil {
		return errs.Wrapf(err, "dispatcher: killing worker process group %d", pgid)
	}
	return nil
}

func (h *osProcessHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
