// Package dispatcher implements the Dispatcher (SPEC_FULL.md C5): the
// single-threaded, cooperative event loop that partitions a Test Tree's
// runnable tests into worker-hash runs, maintains a pool of W workers,
// streams tests to them over IPC, and applies retry, timeout, and
// early-termination policy.
//
// The "single writer" property described in SPEC_FULL.md §5 is realized by
// confining every mutation of the run queue and worker pool to the
// goroutine executing Run; worker pump goroutines only ever forward events
// over a channel, grounded on how chromiumos/tast/internal/planner keeps
// all bookkeeping on one goroutine while fan-out workers merely report in.
package dispatcher

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/errgroup"

	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/ipc"
	"github.com/paratest-dev/paratest/internal/model"
	"github.com/paratest-dev/paratest/internal/testtree"
)

// heartbeatGrace is how long a worker may stay silent, with no OS process
// evidence of life, before the dispatcher treats it as crashed. It mirrors
// the 2x heartbeatInterval rule in SPEC_FULL.md §4.4.
const heartbeatGrace = 2 * 5 * time.Second

// drainGrace is how long a worker told to Stop is given to report its final
// Done or disconnect before the dispatcher force-terminates it via its
// ProcessHandle, per SPEC_FULL.md §4.5/§5.
const drainGrace = 10 * time.Second

// errCrashSilentWorker is the cause attached to a test finalized because its
// worker went quiet past heartbeatGrace with no OS-level evidence of life.
var errCrashSilentWorker = errs.New("worker produced no heartbeat and its process is no longer running")

// ProcessHandle is the dispatcher's view of a spawned worker process,
// abstracting a real OS subprocess (spawn_process.go) from an in-process
// goroutine standing in for one in tests (spawn_inprocess.go).
type ProcessHandle interface {
	// Wait blocks until the process has exited and reports its outcome.
	Wait() error
	// Kill forcibly terminates the process (and its process group, for a
	// real subprocess) if it has not already exited.
	Kill() error
	// Pid returns the OS process id, or 0 if none (an in-process worker).
	Pid() int
}

// Spawner creates a new worker, wired to the returned Channel.
type Spawner interface {
	Spawn(ctx context.Context, workerIndex int) (*ipc.Channel, ProcessHandle, error)
}

// EventSink is fed every event a dispatch produces, in emission order. A
// Report Aggregator (internal/report) implements this to normalize events
// for external reporters.
type EventSink interface {
	OnBegin(cfg model.RunConfig, tests []*model.Test)
	OnTestBegin(test *model.Test)
	OnStdio(test *model.Test, stream ipc.Stream, chunk string)
	OnTestEnd(test *model.Test, result *model.TestResult)
	OnEnd(status model.RunStatus)
}

// NopSink discards every event; useful as a default or in tests that only
// care about the returned status.
type NopSink struct{}

func (NopSink) OnBegin(model.RunConfig, []*model.Test)             {}
func (NopSink) OnTestBegin(*model.Test)                            {}
func (NopSink) OnStdio(*model.Test, ipc.Stream, string)            {}
func (NopSink) OnTestEnd(*model.Test, *model.TestResult)           {}
func (NopSink) OnEnd(model.RunStatus)                              {}

// workerSlot is one pool member. It is never reused across a retirement:
// once retired, a fresh workerSlot is allocated even if it is immediately
// assigned the same numeric index.
type workerSlot struct {
	idx  int
	hash string
	ch   *ipc.Channel
	proc ProcessHandle

	state          slotState
	pendingRun     *testtree.HashRun
	cursor         int
	testStart      time.Time
	lastHeartbeat  time.Time
	lastFreed      time.Time

	// stopDeadline is set when the slot is told to Stop; if it is still
	// retiring past this time, checkDrainTimeouts force-terminates it.
	stopDeadline time.Time
	killed       bool
}

type slotState int

const (
	slotSpawning slotState = iota
	slotBusy
	slotIdle
)

type dispatchEvent struct {
	slot *workerSlot
	msg  ipc.Msg
	err  error
}

// Dispatcher runs a single dispatch of tests against RunConfig.
type Dispatcher struct {
	Spawner Spawner
	Sink    EventSink
	Clock   clock.Clock

	cfg   model.RunConfig
	tests []*model.Test
	byID  map[string]*model.Test

	pendingRuns []*testtree.HashRun
	slotsByIdx  []*workerSlot
	retiring    map[*workerSlot]bool

	events chan dispatchEvent

	draining     bool
	drainStatus  model.RunStatus
	failureCount int
	runErrors    []error

	ctx context.Context

	projectIndex map[string]int
}

// New creates a Dispatcher for tests under cfg. tests must already be the
// fully filtered, runnable set produced by internal/testtree.
func New(tests []*model.Test, cfg model.RunConfig, spawner Spawner, sink EventSink, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.NewClock()
	}
	if sink == nil {
		sink = NopSink{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	byID := make(map[string]*model.Test, len(tests))
	for _, t := range tests {
		byID[t.ID()] = t
	}

	projIdx := make(map[string]int)
	for _, name := range testtree.DistinctProjects(tests) {
		projIdx[name] = len(projIdx)
	}

	return &Dispatcher{
		Spawner:      spawner,
		Sink:         sink,
		Clock:        clk,
		cfg:          cfg,
		tests:        tests,
		byID:         byID,
		pendingRuns:  testtree.HashRuns(tests),
		slotsByIdx:   make([]*workerSlot, cfg.Workers),
		retiring:     make(map[*workerSlot]bool),
		events:       make(chan dispatchEvent, 64),
		projectIndex: projIdx,
	}
}

// Run drives the dispatch to completion and returns the terminal status. ctx
// cancellation (e.g. on SIGINT) triggers the same drain sequence as
// maxFailures or globalTimeout.
func (d *Dispatcher) Run(ctx context.Context) (model.RunStatus, error) {
	d.ctx = ctx
	d.Sink.OnBegin(d.cfg, d.tests)

	var timeoutC <-chan time.Time
	if d.cfg.GlobalTimeout > 0 {
		timer := d.Clock.NewTimer(d.cfg.GlobalTimeout)
		defer timer.Stop()
		timeoutC = timer.C()
	}

	// The errgroup ties every worker pump goroutine's lifetime to this run;
	// Run returns any pump goroutine's error (there normally are none, since
	// ordinary test failures never make a pump return non-nil) alongside the
	// terminal status.
	group, _ := errgroup.WithContext(ctx)

	liveness := d.Clock.NewTicker(heartbeatGrace / 2)
	defer liveness.Stop()

	d.fillCapacity(group)

	for !d.finished() {
		select {
		case <-ctx.Done():
			d.triggerDrain(model.RunInterrupted)
		case <-timeoutC:
			d.triggerDrain(model.RunTimedOut)
			timeoutC = nil
		case <-liveness.C():
			d.checkLiveness()
			d.checkDrainTimeouts()
		case ev := <-d.events:
			d.handleEvent(ev, group)
		}
		d.fillCapacity(group)
		d.maybeBeginFinalDrain()
	}

	if d.drainStatus == "" {
		d.drainStatus = model.RunPassed
		for _, t := range d.tests {
			if s := t.FinalStatus(); s == model.StatusFailed || s == model.StatusTimedOut {
				d.drainStatus = model.RunFailed
				break
			}
		}
	}

	d.Sink.OnEnd(d.drainStatus)

	if err := group.Wait(); err != nil {
		return d.drainStatus, errs.Wrap(err, "dispatcher: worker supervision failed")
	}
	if len(d.runErrors) > 0 {
		return d.drainStatus, errs.Wrap(d.runErrors[0], "dispatcher: run-level error")
	}
	return d.drainStatus, nil
}

// finished reports whether every slot has been fully retired and there is
// no more work to assign.
func (d *Dispatcher) finished() bool {
	if len(d.pendingRuns) > 0 {
		return false
	}
	if len(d.retiring) > 0 {
		return false
	}
	for _, s := range d.slotsByIdx {
		if s != nil {
			return false
		}
	}
	return true
}

// maybeBeginFinalDrain starts winding down idle workers once there is no
// more work left to hand out, unifying "ran to completion" with the early
// termination drain path.
func (d *Dispatcher) maybeBeginFinalDrain() {
	if d.draining || len(d.pendingRuns) > 0 {
		return
	}
	for _, s := range d.slotsByIdx {
		if s != nil && s.state != slotIdle {
			return // still busy or spawning; nothing to drain yet
		}
	}
	for _, s := range d.slotsByIdx {
		if s != nil {
			d.retireSlot(s, true)
		}
	}
}

// triggerDrain switches the dispatcher into early-termination mode: no new
// runs are started, queued tests are marked skipped, and idle workers are
// stopped. In-flight tests are allowed to finish.
func (d *Dispatcher) triggerDrain(status model.RunStatus) {
	if d.draining {
		return
	}
	d.draining = true
	d.drainStatus = status

	for _, run := range d.pendingRuns {
		for _, t := range run.Tests {
			d.skip(t)
		}
	}
	d.pendingRuns = nil

	for _, s := range d.slotsByIdx {
		if s != nil && s.state == slotIdle {
			d.retireSlot(s, true)
		}
	}
}

func (d *Dispatcher) skip(t *model.Test) {
	result := &model.TestResult{
		Attempt: len(t.Results),
		Retry:   len(t.Results),
		Status:  model.StatusSkipped,
	}
	t.Results = append(t.Results, result)
	d.Sink.OnTestEnd(t, result)
}

// fillCapacity assigns as many pending hash-runs to workers as current pool
// capacity allows, per the scheduling algorithm in SPEC_FULL.md §4.5.
func (d *Dispatcher) fillCapacity(group *errgroup.Group) {
	if d.draining {
		return
	}
	for len(d.pendingRuns) > 0 {
		run := d.pendingRuns[0]

		if s := d.findIdle(run.Hash); s != nil {
			d.pendingRuns = d.pendingRuns[1:]
			d.beginRun(s, run)
			continue
		}
		if idx, ok := d.freeIndex(); ok {
			s := d.allocSlot(idx, run.Hash, group)
			d.pendingRuns = d.pendingRuns[1:]
			d.beginRun(s, run)
			continue
		}
		if s := d.findIdle(""); s != nil {
			// No free index and no exact-hash match: evict the
			// least-recently-used idle worker, of whatever hash, and spawn
			// a fresh one in its place.
			d.retireSlot(s, true)
			s2 := d.allocSlot(s.idx, run.Hash, group)
			d.pendingRuns = d.pendingRuns[1:]
			d.beginRun(s2, run)
			continue
		}
		break // no capacity; wait for a slot to free up
	}
}

// findIdle returns the least-recently-freed idle slot. If hash is non-empty
// it restricts the search to slots currently bound to that hash; an empty
// hash matches any idle slot (used for LRU eviction).
func (d *Dispatcher) findIdle(hash string) *workerSlot {
	var best *workerSlot
	for _, s := range d.slotsByIdx {
		if s == nil || s.state != slotIdle {
			continue
		}
		if hash != "" && s.hash != hash {
			continue
		}
		if best == nil || s.lastFreed.Before(best.lastFreed) {
			best = s
		}
	}
	return best
}

func (d *Dispatcher) freeIndex() (int, bool) {
	for i, s := range d.slotsByIdx {
		if s == nil {
			return i, true
		}
	}
	return 0, false
}

// allocSlot spawns a worker at idx, wires its pump goroutine into group, and
// sends Init. The returned slot is in slotSpawning state until its Ready
// arrives.
func (d *Dispatcher) allocSlot(idx int, hash string, group *errgroup.Group) *workerSlot {
	ch, proc, err := d.Spawner.Spawn(d.ctx, idx)
	s := &workerSlot{idx: idx, hash: hash, ch: ch, proc: proc, state: slotSpawning}
	d.slotsByIdx[idx] = s
	if err != nil {
		// Treat a spawn failure as an immediately-dead worker so the normal
		// crash path requeues whatever it was meant to run.
		d.events <- dispatchEvent{slot: s, err: errs.Wrap(err, "dispatcher: spawn failed")}
		return s
	}

	group.Go(func() error {
		d.pump(s)
		return nil
	})

	projIdx := d.projectIndex[firstProjectName(hash, d)]
	_ = ch.Write(&ipc.Init{WorkerIndex: idx, ProjectIndex: projIdx, FixtureHash: hash})
	return s
}

// firstProjectName is a best-effort label for Init.ProjectIndex: it has no
// bearing on scheduling correctness, only on the index a worker records about
// itself, so an approximate answer (any project sharing this hash) is fine.
func firstProjectName(hash string, d *Dispatcher) string {
	for _, run := range d.pendingRuns {
		if run.Hash == hash && len(run.Tests) > 0 {
			return run.Tests[0].ProjectName()
		}
	}
	return ""
}

func (d *Dispatcher) pump(s *workerSlot) {
	for {
		msg, err := s.ch.Read()
		d.events <- dispatchEvent{slot: s, msg: msg, err: err}
		if err != nil {
			return
		}
	}
}

// beginRun binds run to s (reusing it if already idle-and-matching, or
// waiting for its Ready if freshly spawned) and, once the slot is ready to
// receive work, sends the run's first test.
func (d *Dispatcher) beginRun(s *workerSlot, run *testtree.HashRun) {
	s.pendingRun = run
	s.cursor = 0
	if s.state == slotIdle {
		s.state = slotBusy
		d.sendNextTest(s)
	}
	// If s.state == slotSpawning, sendNextTest happens once its Ready event
	// arrives; see handleEvent.
}

func (d *Dispatcher) sendNextTest(s *workerSlot) {
	t := s.pendingRun.Tests[s.cursor]
	s.testStart = d.Clock.Now()
	_ = s.ch.Write(&ipc.Run{
		TestID:         t.ID(),
		FixtureHash:    s.hash,
		Timeout:        t.Timeout,
		Retry:          len(t.Results),
		ExpectedStatus: t.ExpectedStatus,
	})
}

// retireSlot removes s from the active pool, freeing its numeric index
// immediately so a replacement can be spawned. If sendStop is true, s is
// still alive and is told to tear down cleanly; its pump goroutine keeps
// delivering events (routed to handleRetiringEvent) until it reports Done or
// disconnects.
func (d *Dispatcher) retireSlot(s *workerSlot, sendStop bool) {
	if d.slotsByIdx[s.idx] == s {
		d.slotsByIdx[s.idx] = nil
	}
	d.retiring[s] = true
	if sendStop {
		s.stopDeadline = d.Clock.Now().Add(drainGrace)
		_ = s.ch.Write(&ipc.Stop{})
	} else {
		_ = s.proc.Wait()
		delete(d.retiring, s)
	}
}

// checkDrainTimeouts force-terminates any retiring worker that has not
// reported its final Done or disconnected within drainGrace of being told to
// Stop, per SPEC_FULL.md §4.5/§5. The worker's own pump goroutine observes
// the resulting disconnect and routes it through handleRetiringEvent's error
// path, which reaps it and clears d.retiring the same way a cooperative exit
// would.
func (d *Dispatcher) checkDrainTimeouts() {
	now := d.Clock.Now()
	for s := range d.retiring {
		if s.killed || s.stopDeadline.IsZero() || now.Before(s.stopDeadline) {
			continue
		}
		s.killed = true
		if err := s.proc.Kill(); err != nil {
			d.runErrors = append(d.runErrors, errs.Wrapf(err, "dispatcher: worker %d: force-terminating after exceeding drain grace", s.idx))
		}
	}
}

func (d *Dispatcher) handleEvent(ev dispatchEvent, group *errgroup.Group) {
	s := ev.slot

	if d.retiring[s] {
		d.handleRetiringEvent(ev)
		return
	}

	if ev.err != nil {
		d.handleCrash(s, ev.err)
		return
	}

	switch msg := ev.msg.(type) {
	case *ipc.Ready:
		if s.state == slotSpawning {
			s.state = slotBusy
			d.sendNextTest(s)
		}
	case *ipc.TestBegin:
		if t, ok := d.byID[msg.TestID]; ok {
			d.Sink.OnTestBegin(t)
		}
	case *ipc.Stdio:
		if t, ok := d.byID[msg.TestID]; ok {
			d.Sink.OnStdio(t, msg.Stream, msg.Data)
		}
	case *ipc.TestEnd:
		d.handleTestEnd(s, msg, group)
	case *ipc.TeardownError:
		d.runErrors = append(d.runErrors, errs.Errorf("worker %d: teardown error: %s", s.idx, msg.Error))
	case *ipc.Heartbeat:
		s.lastHeartbeat = msg.Time
	case *ipc.Done:
		// A worker only sends Done unsolicited when discarding itself
		// after a failure; finishAttempt already retired and sent Stop to
		// the slot by the time that arrives, so this path is unreachable
		// in practice. Left as a no-op rather than a panic for robustness.
	}
}

func (d *Dispatcher) handleRetiringEvent(ev dispatchEvent) {
	s := ev.slot
	if ev.err != nil {
		_ = s.proc.Wait()
		delete(d.retiring, s)
		return
	}
	switch msg := ev.msg.(type) {
	case *ipc.Done:
		if msg.PendingWorker {
			// The worker announced its own discard; Stop is already in
			// flight from retireSlot, nothing more to do until its final
			// Done or disconnect arrives.
			return
		}
		_ = s.proc.Wait()
		delete(d.retiring, s)
	case *ipc.TestEnd:
		// The retiring worker still had a test in flight when we decided
		// to stop it (e.g. a hash-change eviction raced a straggling
		// testEnd); there is nothing further to do with it since the slot
		// that owned this test has already been reassigned its bookkeeping
		// elsewhere.
		_ = msg
	}
}

func (d *Dispatcher) handleCrash(s *workerSlot, cause error) {
	if s.state == slotBusy && s.cursor < len(s.pendingRun.Tests) {
		t := s.pendingRun.Tests[s.cursor]
		result := &model.TestResult{
			Attempt:     len(t.Results),
			Retry:       len(t.Results),
			WorkerIndex: s.idx,
			StartTime:   s.testStart,
			Duration:    d.Clock.Now().Sub(s.testStart),
			Status:      model.StatusFailed,
			Error:       &model.TestError{Message: errs.Wrap(cause, "WorkerCrash: worker exited before testEnd").Error()},
		}
		d.finishAttempt(s, t, result, false)
		return
	}
	d.retireSlot(s, false)
}

// handleTestEnd records one attempt's outcome and either streams the next
// test to s, retires it (if draining), or lets it go idle.
func (d *Dispatcher) handleTestEnd(s *workerSlot, msg *ipc.TestEnd, group *errgroup.Group) {
	t, ok := d.byID[msg.TestID]
	if !ok {
		return
	}
	result := &model.TestResult{
		Attempt:     len(t.Results),
		Retry:       len(t.Results),
		WorkerIndex: s.idx,
		StartTime:   s.testStart,
		Duration:    msg.Duration,
		Status:      msg.Status,
		Error:       msg.Error,
	}
	d.finishAttempt(s, t, result, true)
}

// finishAttempt is the shared tail of a completed attempt, whether it ended
// via a normal testEnd or a worker crash: record the result, handle
// retry/requeue bookkeeping, and advance or retire the slot. workerAlive is
// false when called from handleCrash, where there is no live channel left
// to send a Stop to.
func (d *Dispatcher) finishAttempt(s *workerSlot, t *model.Test, result *model.TestResult, workerAlive bool) {
	t.Results = append(t.Results, result)
	d.Sink.OnTestEnd(t, result)

	if result.Status == model.StatusPassed {
		s.cursor++
		if d.draining {
			d.skipRemaining(s)
			d.retireSlot(s, workerAlive)
			return
		}
		if s.cursor < len(s.pendingRun.Tests) {
			d.sendNextTest(s)
			return
		}
		s.state = slotIdle
		s.lastFreed = d.Clock.Now()
		return
	}

	// Any failure or timeout always discards the worker (policy: one
	// failure per worker), per SPEC_FULL.md §4.4.
	remaining := s.pendingRun.Tests[s.cursor+1:]
	s.cursor = len(s.pendingRun.Tests)

	retryEligible := len(t.Results) <= t.Retries
	if d.draining {
		retryEligible = false
	}

	var requeue []*testtree.HashRun
	if retryEligible {
		requeue = append(requeue, &testtree.HashRun{Hash: t.FixtureHash, Tests: []*model.Test{t}})
	} else {
		d.failureCount++
	}
	if len(remaining) > 0 {
		if d.draining {
			for _, rt := range remaining {
				d.skip(rt)
			}
		} else {
			requeue = append(requeue, &testtree.HashRun{Hash: s.hash, Tests: remaining})
		}
	}
	d.pendingRuns = append(requeue, d.pendingRuns...)
	d.retireSlot(s, workerAlive)

	if !retryEligible && d.cfg.MaxFailures > 0 && d.failureCount >= d.cfg.MaxFailures {
		d.triggerDrain(model.RunFailed)
	}
}

func (d *Dispatcher) skipRemaining(s *workerSlot) {
	for _, t := range s.pendingRun.Tests[s.cursor:] {
		d.skip(t)
	}
}
