package runner

import (
	"fmt"
	"sync"
	"time"

	"golang-taskrunner/internal/model"
	"golang-taskrunner/pkg/logger"
	"golang-taskrunner/pkg/utils"
)

const (
	cancelProbeWait = time.Millisecond
	cancelGraceWait = 100 * time.Millisecond

	defaultTermGrace = time.Second
)

// registration ties together one live task's supervisor and its mutable
// execution info. A task is either fully registered or not registered at
// all.
type registration struct {
	sup  *supervisor
	info *model.TaskExecutionInfo
}

// TaskRunner multiplexes resource-admitted tasks over concurrent
// supervisors. The registry, and the status writes that Poll and Cancel
// make, are guarded by one mutex, so the orchestrator's poll loop and the
// HTTP handlers may call in from different goroutines. The supervisor
// workers never touch the registry.
type TaskRunner struct {
	log       *logger.Logger
	termGrace time.Duration

	mu     sync.Mutex
	regs   map[model.TaskID]*registration
	notify chan struct{}
}

func New(log *logger.Logger, termGrace time.Duration) *TaskRunner {
	if termGrace <= 0 {
		termGrace = defaultTermGrace
	}
	return &TaskRunner{
		log:       log,
		termGrace: termGrace,
		regs:      make(map[model.TaskID]*registration),
		notify:    make(chan struct{}, 1),
	}
}

// Submit applies the task's resources, registers the right supervisor
// variant for it and starts the worker. It returns false and marks the
// info failed_scheduling when the task cannot be started; the registry
// never retains a partial registration on that path.
//
// Submitting an info whose task is not a unit task is a scheduler bug and
// panics.
func (r *TaskRunner) Submit(info *model.TaskExecutionInfo, simulate bool) bool {
	unit, ok := info.Task.(model.UnitTask)
	if !ok {
		panic(fmt.Sprintf("runner: task %d is not a unit task", info.ID))
	}

	if err := unit.ApplyResources(info.Resources); err != nil {
		info.Status = model.StatusFailedScheduling
		r.log.Error("Failed to apply task resources",
			logger.Int64Field("task_id", int64(info.ID)),
			logger.StringField("task_name", info.Task.Name()),
			logger.ErrorField(err),
		)
		return false
	}

	var sup *supervisor
	if simulate {
		sup = newNoOpSupervisor()
	} else if task, ok := info.Task.(model.InRuntimeTask); ok {
		sup = newInRuntimeSupervisor(task, info.Script, info.LogFile)
	} else if task, ok := info.Task.(model.ProcessTask); ok {
		sup = newProcessSupervisor(task, info.Script, info.LogFile, r.termGrace)
	} else {
		info.Status = model.StatusFailedScheduling
		r.log.Error("Task is neither a process nor an in-runtime task",
			logger.Int64Field("task_id", int64(info.ID)),
			logger.StringField("task_name", info.Task.Name()),
		)
		return false
	}

	r.mu.Lock()
	r.regs[info.ID] = &registration{sup: sup, info: info}
	r.mu.Unlock()

	info.Status = model.StatusStarted
	info.StartDate = utils.ToPointer(time.Now())
	sup.start(r.notify)

	return true
}

// Poll harvests every supervisor whose worker has finished and returns the
// batch keyed by task id. When nothing has finished yet it waits up to
// timeout for one completion signal and sweeps again, so the worst-case
// block is a single timeout per call regardless of how many tasks are
// live. Tasks still running stay registered for a later sweep.
func (r *TaskRunner) Poll(timeout time.Duration, failedAreCompleted bool) map[model.TaskID]model.Completion {
	completed := make(map[model.TaskID]model.Completion)

	r.sweep(completed, failedAreCompleted)
	if len(completed) > 0 {
		return completed
	}

	r.mu.Lock()
	live := len(r.regs)
	r.mu.Unlock()
	if live == 0 {
		return completed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.notify:
	case <-timer.C:
	}

	r.sweep(completed, failedAreCompleted)
	return completed
}

func (r *TaskRunner) sweep(out map[model.TaskID]model.Completion, failedAreCompleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, reg := range r.regs {
		if !reg.sup.finished() {
			continue
		}
		out[id] = r.harvest(id, reg, failedAreCompleted)
	}
}

// harvest performs the completion bookkeeping for one finished worker and
// removes its registration. Caller holds the registry lock.
func (r *TaskRunner) harvest(id model.TaskID, reg *registration, failedAreCompleted bool) model.Completion {
	sup, info := reg.sup, reg.info

	if sup.onCompleteSuccessful == nil {
		panic(fmt.Sprintf("runner: task %d worker finished without an on-complete result", id))
	}
	exitCode := sup.exitCode
	hookSucceeded := *sup.onCompleteSuccessful

	// Cancellation may already have recorded the operator's intent; a
	// terminal status is never overwritten.
	if !info.Status.IsTerminal() {
		info.Status = terminalStatus(exitCode, hookSucceeded, failedAreCompleted)
		info.EndDate = utils.ToPointer(time.Now())
	}

	if sup.err != nil {
		r.log.Error("Task worker failed",
			logger.Int64Field("task_id", int64(id)),
			logger.StringField("task_name", info.Task.Name()),
			logger.IntField("exit_code", exitCode),
			logger.ErrorField(sup.err),
		)
	}

	sup.interrupt()
	delete(r.regs, id)

	return model.Completion{ExitCode: exitCode, HookSucceeded: hookSucceeded}
}

func terminalStatus(exitCode int, hookSucceeded, failedAreCompleted bool) model.TaskStatus {
	switch {
	case failedAreCompleted || (exitCode == 0 && hookSucceeded):
		return model.StatusSucceeded
	case exitCode != 0:
		return model.StatusFailedCommand
	default:
		return model.StatusFailedOnComplete
	}
}

// RunningIDs returns a snapshot of the ids of currently registered tasks,
// in no particular order.
func (r *TaskRunner) RunningIDs() []model.TaskID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]model.TaskID, 0, len(r.regs))
	for id := range r.regs {
		ids = append(ids, id)
	}
	return ids
}

// Cancel interrupts one live task: a short probe for voluntary completion,
// then a cooperative interrupt and a bounded grace wait. The recorded
// status reflects the operator's intent regardless of whether the worker
// actually died; the returned boolean reports only whether the worker was
// observed dead within the grace wait.
//
// The registration stays in place so the next Poll harvests the task
// through the single removal path.
func (r *TaskRunner) Cancel(id model.TaskID) bool {
	r.mu.Lock()
	reg, ok := r.regs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if !reg.sup.wait(cancelProbeWait) {
		reg.sup.interrupt()
		reg.sup.wait(cancelGraceWait)
	}

	r.mu.Lock()
	if !reg.info.Status.IsTerminal() {
		reg.info.Status = model.StatusFailedCommand
		reg.info.EndDate = utils.ToPointer(time.Now())
	}
	r.mu.Unlock()

	return reg.sup.finished()
}
