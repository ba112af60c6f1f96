package runner

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"golang-taskrunner/internal/model"
	"golang-taskrunner/pkg/logger"
)

// shellTask runs a shell snippet as an external process.
type shellTask struct {
	name       string
	command    string
	applyErr   error
	applyCount atomic.Int32
	hookCount  atomic.Int32
	hook       func(exitCode int) (bool, error)
}

func (t *shellTask) Name() string { return t.name }

func (t *shellTask) ApplyResources(model.Resources) error {
	t.applyCount.Add(1)
	return t.applyErr
}

func (t *shellTask) OnComplete(exitCode int) (bool, error) {
	t.hookCount.Add(1)
	return t.hook(exitCode)
}

func (t *shellTask) Command(script, logFile string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", t.command)
}

// funcTask runs inside the runtime.
type funcTask struct {
	name       string
	fn         func(script, logFile string) (int, error)
	applyCount atomic.Int32
	runCount   atomic.Int32
	hookCount  atomic.Int32
	hook       func(exitCode int) (bool, error)
}

func (t *funcTask) Name() string { return t.name }

func (t *funcTask) ApplyResources(model.Resources) error {
	t.applyCount.Add(1)
	return nil
}

func (t *funcTask) OnComplete(exitCode int) (bool, error) {
	t.hookCount.Add(1)
	return t.hook(exitCode)
}

func (t *funcTask) Run(script, logFile string) (int, error) {
	t.runCount.Add(1)
	return t.fn(script, logFile)
}

// bareTask is a named task that is not a unit task.
type bareTask struct{ name string }

func (t *bareTask) Name() string { return t.name }

// unitOnlyTask is a unit task that is neither a process nor an in-runtime task.
type unitOnlyTask struct{ name string }

func (t *unitOnlyTask) Name() string                         { return t.name }
func (t *unitOnlyTask) ApplyResources(model.Resources) error { return nil }
func (t *unitOnlyTask) OnComplete(int) (bool, error)         { return true, nil }

func hookZeroIsSuccess(exitCode int) (bool, error) {
	return exitCode == 0, nil
}

func newTestRunner(t *testing.T) *TaskRunner {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)
	return New(log, time.Second)
}

func newInfo(t *testing.T, id model.TaskID, task model.Task) *model.TaskExecutionInfo {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "task.sh")
	logFile := filepath.Join(dir, "task.log")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(logFile, nil, 0o644))

	return &model.TaskExecutionInfo{
		ID:      id,
		Task:    task,
		Script:  script,
		LogFile: logFile,
		Status:  model.StatusPending,
	}
}

// pollUntil polls until at least one completion is harvested or the
// deadline passes.
func pollUntil(t *testing.T, r *TaskRunner, failedAreCompleted bool) map[model.TaskID]model.Completion {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		completed := r.Poll(2*time.Second, failedAreCompleted)
		if len(completed) > 0 {
			return completed
		}
	}
	t.Fatal("no task completed before the deadline")
	return nil
}

func TestSubmitHappyProcess(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{name: "exit-zero", command: "exit 0", hook: hookZeroIsSuccess}
	info := newInfo(t, 1, task)

	require.True(t, r.Submit(info, false))
	assert.Equal(t, model.StatusStarted, info.Status)
	require.NotNil(t, info.StartDate)

	completed := pollUntil(t, r, false)
	require.Equal(t, map[model.TaskID]model.Completion{
		1: {ExitCode: 0, HookSucceeded: true},
	}, completed)

	assert.Equal(t, model.StatusSucceeded, info.Status)
	require.NotNil(t, info.EndDate)
	assert.False(t, info.EndDate.Before(*info.StartDate))
	assert.Empty(t, r.RunningIDs())
}

func TestSubmitFailingCommand(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{name: "exit-seven", command: "exit 7", hook: hookZeroIsSuccess}
	info := newInfo(t, 2, task)

	require.True(t, r.Submit(info, false))

	completed := pollUntil(t, r, false)
	require.Equal(t, model.Completion{ExitCode: 7, HookSucceeded: false}, completed[2])
	assert.Equal(t, model.StatusFailedCommand, info.Status)
}

func TestHookFailure(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{
		name:    "hook-fails",
		command: "exit 0",
		hook:    func(int) (bool, error) { return false, nil },
	}
	info := newInfo(t, 3, task)

	require.True(t, r.Submit(info, false))

	completed := pollUntil(t, r, false)
	require.Equal(t, model.Completion{ExitCode: 0, HookSucceeded: false}, completed[3])
	assert.Equal(t, model.StatusFailedOnComplete, info.Status)
}

func TestInRuntimeError(t *testing.T) {
	core, observed := observer.New(zap.ErrorLevel)
	r := New(&logger.Logger{Logger: zap.New(core)}, time.Second)

	task := &funcTask{
		name: "in-runtime-boom",
		fn: func(string, string) (int, error) {
			return 0, errors.New("boom")
		},
		hook: hookZeroIsSuccess,
	}
	info := newInfo(t, 4, task)

	require.True(t, r.Submit(info, false))

	completed := pollUntil(t, r, false)
	require.Equal(t, model.Completion{ExitCode: 1, HookSucceeded: false}, completed[4])
	assert.Equal(t, model.StatusFailedCommand, info.Status)
	assert.EqualValues(t, 1, task.hookCount.Load())

	// The captured error is logged with the task name and message.
	entries := observed.FilterMessage("Task worker failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "in-runtime-boom", fields["task_name"])
	assert.Contains(t, fields["error"], "boom")
}

func TestInRuntimePanicIsCaptured(t *testing.T) {
	r := newTestRunner(t)
	task := &funcTask{
		name: "in-runtime-panic",
		fn: func(string, string) (int, error) {
			panic("unexpected")
		},
		hook: hookZeroIsSuccess,
	}
	info := newInfo(t, 5, task)

	require.True(t, r.Submit(info, false))

	completed := pollUntil(t, r, false)
	require.Equal(t, model.Completion{ExitCode: 1, HookSucceeded: false}, completed[5])
	assert.Equal(t, model.StatusFailedCommand, info.Status)
}

func TestSimulateNeverRunsTheTask(t *testing.T) {
	r := newTestRunner(t)
	task := &funcTask{
		name: "simulated",
		fn: func(string, string) (int, error) {
			return 9, nil
		},
		hook: func(int) (bool, error) { return false, nil },
	}
	info := newInfo(t, 6, task)

	require.True(t, r.Submit(info, true))

	completed := pollUntil(t, r, false)
	require.Equal(t, model.Completion{ExitCode: 0, HookSucceeded: true}, completed[6])
	assert.Equal(t, model.StatusSucceeded, info.Status)
	assert.EqualValues(t, 0, task.runCount.Load())
	assert.EqualValues(t, 0, task.hookCount.Load())
}

func TestCancelRunningProcess(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{name: "sleeper", command: "sleep 60", hook: hookZeroIsSuccess}
	info := newInfo(t, 7, task)

	require.True(t, r.Submit(info, false))

	// Give the child a moment to actually start.
	time.Sleep(50 * time.Millisecond)

	assert.True(t, r.Cancel(7))
	assert.Equal(t, model.StatusFailedCommand, info.Status)
	require.NotNil(t, info.EndDate)

	completed := pollUntil(t, r, false)
	require.Equal(t, model.Completion{ExitCode: 1, HookSucceeded: false}, completed[7])
	assert.Equal(t, model.StatusFailedCommand, info.Status)
	assert.Empty(t, r.RunningIDs())

	assert.False(t, r.Cancel(7))
}

func TestFailedAreCompletedOverride(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{name: "exit-seven", command: "exit 7", hook: hookZeroIsSuccess}
	info := newInfo(t, 8, task)

	require.True(t, r.Submit(info, false))

	completed := pollUntil(t, r, true)
	require.Equal(t, model.Completion{ExitCode: 7, HookSucceeded: false}, completed[8])
	assert.Equal(t, model.StatusSucceeded, info.Status)
}

func TestSubmitNonUnitTaskPanics(t *testing.T) {
	r := newTestRunner(t)
	info := newInfo(t, 9, &bareTask{name: "not-a-unit"})

	require.Panics(t, func() { r.Submit(info, false) })
}

func TestSubmitUnknownFlavorFailsScheduling(t *testing.T) {
	r := newTestRunner(t)
	info := newInfo(t, 10, &unitOnlyTask{name: "flavorless"})

	assert.False(t, r.Submit(info, false))
	assert.Equal(t, model.StatusFailedScheduling, info.Status)
	assert.Empty(t, r.RunningIDs())
}

func TestSubmitResourceFailureLeavesNoRegistration(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{
		name:     "bad-resources",
		command:  "exit 0",
		applyErr: errors.New("no capacity"),
		hook:     hookZeroIsSuccess,
	}
	info := newInfo(t, 11, task)

	assert.False(t, r.Submit(info, false))
	assert.Equal(t, model.StatusFailedScheduling, info.Status)
	assert.EqualValues(t, 1, task.applyCount.Load())
	assert.Empty(t, r.RunningIDs())
	assert.Empty(t, r.Poll(10*time.Millisecond, false))
}

func TestResourcesAppliedExactlyOnce(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{name: "once", command: "exit 0", hook: hookZeroIsSuccess}
	info := newInfo(t, 12, task)

	require.True(t, r.Submit(info, false))
	pollUntil(t, r, false)

	assert.EqualValues(t, 1, task.applyCount.Load())
}

func TestTerminalStatusIsNeverOverwritten(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{name: "terminal", command: "exit 0", hook: hookZeroIsSuccess}
	info := newInfo(t, 13, task)

	require.True(t, r.Submit(info, false))
	pollUntil(t, r, false)

	require.Equal(t, model.StatusSucceeded, info.Status)
	endDate := *info.EndDate

	assert.False(t, r.Cancel(13))
	assert.Empty(t, r.Poll(10*time.Millisecond, false))
	assert.Equal(t, model.StatusSucceeded, info.Status)
	assert.Equal(t, endDate, *info.EndDate)
}

func TestPollReportsOnlyFinishedTasks(t *testing.T) {
	r := newTestRunner(t)
	fast := &shellTask{name: "fast", command: "exit 0", hook: hookZeroIsSuccess}
	slow := &shellTask{name: "slow", command: "sleep 60", hook: hookZeroIsSuccess}
	fastInfo := newInfo(t, 14, fast)
	slowInfo := newInfo(t, 15, slow)

	require.True(t, r.Submit(fastInfo, false))
	require.True(t, r.Submit(slowInfo, false))

	completed := pollUntil(t, r, false)
	require.Contains(t, completed, model.TaskID(14))
	assert.NotContains(t, completed, model.TaskID(15))

	assert.Equal(t, []model.TaskID{15}, r.RunningIDs())
	assert.Equal(t, model.StatusStarted, slowInfo.Status)

	require.True(t, r.Cancel(15))
	pollUntil(t, r, false)
	assert.Empty(t, r.RunningIDs())
}

func TestTerminalStatusDerivation(t *testing.T) {
	tests := []struct {
		name               string
		exitCode           int
		hookSucceeded      bool
		failedAreCompleted bool
		want               model.TaskStatus
	}{
		{"success", 0, true, false, model.StatusSucceeded},
		{"command failure", 7, false, false, model.StatusFailedCommand},
		{"command failure with successful hook", 7, true, false, model.StatusFailedCommand},
		{"hook failure", 0, false, false, model.StatusFailedOnComplete},
		{"override command failure", 7, false, true, model.StatusSucceeded},
		{"override hook failure", 0, false, true, model.StatusSucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, terminalStatus(tt.exitCode, tt.hookSucceeded, tt.failedAreCompleted))
		})
	}
}

func TestProcessOutputGoesToLogFile(t *testing.T) {
	r := newTestRunner(t)
	task := &shellTask{name: "echoer", command: "echo hello-log", hook: hookZeroIsSuccess}
	info := newInfo(t, 16, task)

	require.True(t, r.Submit(info, false))
	pollUntil(t, r, false)

	content, err := os.ReadFile(info.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello-log")
}
