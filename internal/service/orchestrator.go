package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"golang-taskrunner/config"
	"golang-taskrunner/internal/model"
	"golang-taskrunner/internal/runner"
	"golang-taskrunner/pkg/cache"
	"golang-taskrunner/pkg/common"
	"golang-taskrunner/pkg/logger"
	"golang-taskrunner/pkg/utils"
)

// CancelResult is what the cancel surface reports back: whether the worker
// died within the grace wait, and the recorded status. Callers that need a
// stronger guarantee than the boolean must poll for the terminal status.
type CancelResult struct {
	Found  bool
	Killed bool
	Status model.TaskStatus
}

type OrchestratorService interface {
	Submit(ctx context.Context, info *model.TaskExecutionInfo, simulate bool) error
	Cancel(id model.TaskID) CancelResult
	RunningIDs() []model.TaskID
	Completion(id model.TaskID) (model.CompletionRecord, bool)
	Run(ctx context.Context) error
}

type orchestratorService struct {
	cfg        *config.Config
	log        *logger.Logger
	runner     *runner.TaskRunner
	cache      cache.Cache
	notifier   *CompletionNotifier
	cronParser cron.Parser
	semaphore  chan struct{}

	mu    sync.Mutex
	infos map[model.TaskID]*model.TaskExecutionInfo
}

func NewOrchestratorService(
	cfg *config.Config,
	log *logger.Logger,
	taskRunner *runner.TaskRunner,
	inmemoryCache cache.Cache,
	notifier *CompletionNotifier,
) *orchestratorService {
	return &orchestratorService{
		cfg:        cfg,
		log:        log,
		runner:     taskRunner,
		cache:      inmemoryCache,
		notifier:   notifier,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		semaphore:  make(chan struct{}, cfg.Runner.MaxConcurrency),
		infos:      make(map[model.TaskID]*model.TaskExecutionInfo),
	}
}

// Submit blocks until a concurrency slot is free, then hands the task to
// the runner. The slot is released when the task is harvested.
func (s *orchestratorService) Submit(ctx context.Context, info *model.TaskExecutionInfo, simulate bool) error {
	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.DebugContext(ctx, "Submitting task",
		logger.Int64Field("task_id", int64(info.ID)),
		logger.StringField("task_name", info.Task.Name()),
		logger.BoolField("simulate", simulate),
		logger.IntField("active_concurrency", len(s.semaphore)),
		logger.IntField("max_concurrency", cap(s.semaphore)),
	)

	if !s.runner.Submit(info, simulate) {
		<-s.semaphore
		return fmt.Errorf("task %d failed scheduling", info.ID)
	}

	s.mu.Lock()
	s.infos[info.ID] = info
	s.mu.Unlock()

	return nil
}

// Run drives the poll loop on the configured cron cadence until the
// context is cancelled.
func (s *orchestratorService) Run(ctx context.Context) error {
	schedule, err := s.cronParser.Parse(s.cfg.Runner.PollInterval)
	if err != nil {
		return fmt.Errorf("failed to parse poll interval: %w", err)
	}

	s.log.InfoContext(ctx, "Orchestrator started",
		logger.StringField("poll_interval", s.cfg.Runner.PollInterval),
		logger.DurationField("poll_timeout", s.cfg.Runner.PollTimeout),
		logger.IntField("max_concurrency", cap(s.semaphore)),
	)

	for utils.ShouldContinue(ctx, s.log) {
		next := schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}

		s.harvestCompleted(ctx)
	}

	return nil
}

func (s *orchestratorService) harvestCompleted(ctx context.Context) {
	completed := s.runner.Poll(s.cfg.Runner.PollTimeout, s.cfg.Runner.FailedAreCompleted)
	if len(completed) == 0 {
		return
	}

	for id, completion := range completed {
		select {
		case <-s.semaphore:
		default:
		}

		record := s.buildRecord(id, completion)

		s.log.InfoContext(ctx, "Task completed",
			logger.Int64Field("task_id", int64(id)),
			logger.StringField("task_name", record.TaskName),
			logger.IntField("exit_code", record.ExitCode),
			logger.BoolField("hook_succeeded", record.HookSucceeded),
			logger.StringField("status", string(record.Status)),
		)

		s.cache.Set(fmt.Sprintf(common.KEY_TASK_COMPLETION, id), record, s.cfg.Cache.DefaultExpiration)

		if s.notifier.Enabled() {
			utils.GoSafe(func() {
				s.notifier.Notify(context.WithoutCancel(ctx), record)
			})
		}
	}
}

func (s *orchestratorService) buildRecord(id model.TaskID, completion model.Completion) model.CompletionRecord {
	record := model.CompletionRecord{
		ID:            id,
		ExitCode:      completion.ExitCode,
		HookSucceeded: completion.HookSucceeded,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.infos[id]; ok {
		record.TaskName = info.Task.Name()
		record.Status = info.Status
		record.StartedAt = info.StartDate
		record.CompletedAt = info.EndDate
		delete(s.infos, id)
	}
	return record
}

func (s *orchestratorService) Cancel(id model.TaskID) CancelResult {
	s.mu.Lock()
	info, found := s.infos[id]
	s.mu.Unlock()
	if !found {
		return CancelResult{}
	}

	killed := s.runner.Cancel(id)

	s.log.Info("Task cancel requested",
		logger.Int64Field("task_id", int64(id)),
		logger.BoolField("killed", killed),
		logger.StringField("status", string(info.Status)),
	)

	return CancelResult{Found: true, Killed: killed, Status: info.Status}
}

func (s *orchestratorService) RunningIDs() []model.TaskID {
	return s.runner.RunningIDs()
}

func (s *orchestratorService) Completion(id model.TaskID) (model.CompletionRecord, bool) {
	val, found := s.cache.Get(fmt.Sprintf(common.KEY_TASK_COMPLETION, id))
	if !found {
		return model.CompletionRecord{}, false
	}
	record, ok := val.(model.CompletionRecord)
	if !ok {
		return model.CompletionRecord{}, false
	}
	return record, true
}
