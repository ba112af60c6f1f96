package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang-taskrunner/config"
	"golang-taskrunner/pkg/common"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AlertCore forwards flagged log entries to a webhook in addition to the
// wrapped core. Entries opt in via the send_alert field.
type AlertCore struct {
	cfg      *config.Config
	core     zapcore.Core
	minLevel zapcore.Level
}

// NewWithAlert creates a logger whose error entries flagged with the alert
// field are also POSTed to the configured webhook. With no webhook URL
// configured it behaves exactly like New.
func NewWithAlert(cfg *config.Config) (*Logger, error) {
	zapCfg, err := buildConfig(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if cfg.Alert.WebhookURL != "" {
		minLevel := zapcore.ErrorLevel
		if err := minLevel.UnmarshalText([]byte(cfg.Alert.MinLevel)); err != nil {
			return nil, fmt.Errorf("invalid alert level: %w", err)
		}
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &AlertCore{cfg: cfg, core: core, minLevel: minLevel}
		}))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// ErrorContextWithAlert logs an error and flags it for webhook alerting
func (l *Logger) ErrorContextWithAlert(ctx context.Context, msg string, fields ...zap.Field) {
	fields = append(fields, zap.Bool(common.KEY_LOG_HOOK_SEND_ALERT, true))
	l.FromContext(ctx).Error(msg, fields...)
}

func (a *AlertCore) Enabled(lvl zapcore.Level) bool {
	return a.core.Enabled(lvl)
}

func (a *AlertCore) With(fields []zapcore.Field) zapcore.Core {
	return &AlertCore{
		cfg:      a.cfg,
		core:     a.core.With(fields),
		minLevel: a.minLevel,
	}
}

func (a *AlertCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(entry.Level) {
		return a.core.Check(entry, checkedEntry).AddCore(entry, a)
	}
	return checkedEntry
}

func (a *AlertCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	shouldSend := false
	for _, f := range fields {
		if f.Key == common.KEY_LOG_HOOK_SEND_ALERT && f.Type == zapcore.BoolType && f.Integer == 1 {
			shouldSend = true
			break
		}
	}
	if entry.Level >= a.minLevel && shouldSend {
		go a.sendWebhookAlert(entry, fields) // async so logging never blocks
	}
	return a.core.Write(entry, fields)
}

func (a *AlertCore) Sync() error {
	return a.core.Sync()
}

func (a *AlertCore) sendWebhookAlert(entry zapcore.Entry, fields []zapcore.Field) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	delete(enc.Fields, common.KEY_LOG_HOOK_SEND_ALERT)

	payload := map[string]interface{}{
		"level":   entry.Level.CapitalString(),
		"message": entry.Message,
		"fields":  enc.Fields,
		"time":    entry.Time.Format("2006-01-02 15:04:05"),
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return
	}
	http.Post(a.cfg.Alert.WebhookURL, "application/json", bytes.NewBuffer(jsonBody))
}
