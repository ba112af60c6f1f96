package service

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"golang-taskrunner/config"
	"golang-taskrunner/internal/model"
	"golang-taskrunner/pkg/httpclient"
	"golang-taskrunner/pkg/logger"
	"golang-taskrunner/pkg/ratelimit"
)

// CompletionNotifier POSTs harvested completion records to an external
// webhook, rate limited so a burst of completions cannot flood the
// receiver. With no webhook configured it is a no-op.
type CompletionNotifier struct {
	cfg     *config.Config
	log     *logger.Logger
	client  httpclient.HTTPClient
	limiter *ratelimit.LimiterStore
}

func NewCompletionNotifier(cfg *config.Config, log *logger.Logger) *CompletionNotifier {
	n := &CompletionNotifier{cfg: cfg, log: log}
	if cfg.Notifier.WebhookURL == "" {
		return n
	}

	perMin := cfg.Notifier.MaxRequestPerMin
	if perMin <= 0 {
		perMin = 60
	}

	n.client = httpclient.New(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout)
	n.limiter = ratelimit.NewLimiterStore(rate.Every(time.Minute/time.Duration(perMin)), 1)
	return n
}

func (n *CompletionNotifier) Enabled() bool {
	return n.client != nil
}

func (n *CompletionNotifier) Notify(ctx context.Context, record model.CompletionRecord) {
	if !n.Enabled() {
		return
	}

	if err := n.limiter.GetLimiter(n.cfg.Notifier.WebhookURL).Wait(ctx); err != nil {
		n.log.WarnContext(ctx, "Completion notification dropped",
			logger.Int64Field("task_id", int64(record.ID)),
			logger.ErrorField(err),
		)
		return
	}

	resp, err := n.client.Post(ctx, "", record, nil, nil)
	if err != nil {
		n.log.ErrorContext(ctx, "Failed to notify task completion",
			logger.Int64Field("task_id", int64(record.ID)),
			logger.StringField("task_name", record.TaskName),
			logger.ErrorField(err),
		)
		return
	}

	if resp.StatusCode >= http.StatusBadRequest {
		n.log.WarnContext(ctx, "Completion webhook rejected notification",
			logger.Int64Field("task_id", int64(record.ID)),
			logger.IntField("status_code", resp.StatusCode),
		)
	}
}
