package service

import (
	"golang-taskrunner/config"
	"golang-taskrunner/internal/runner"
	"golang-taskrunner/pkg/cache"
	"golang-taskrunner/pkg/logger"
)

type Service struct {
	Orchestrator OrchestratorService
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	taskRunner *runner.TaskRunner,
	inmemoryCache cache.Cache,
) *Service {
	notifier := NewCompletionNotifier(cfg, log)

	return &Service{
		Orchestrator: NewOrchestratorService(cfg, log, taskRunner, inmemoryCache, notifier),
	}
}
