// Package errtrack reports failures that are handled locally but should
// still reach an operator.
package errtrack

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Reporter receives errors caught in the message path
type Reporter interface {
	Capture(err error, tags map[string]string)
	Recover(recovered interface{}, tags map[string]string)
	Flush(timeout time.Duration)
}

// New returns a Sentry reporter when dsn is set, otherwise a log-only one
func New(dsn, env string, logger zerolog.Logger) (Reporter, error) {
	log := logger.With().Str("component", "errtrack").Logger()
	if dsn == "" {
		return &LogReporter{log: log}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	}); err != nil {
		return nil, fmt.Errorf("failed to init sentry: %w", err)
	}
	return &SentryReporter{hub: sentry.CurrentHub(), log: log}, nil
}

// SentryReporter sends errors to Sentry and logs them
type SentryReporter struct {
	hub *sentry.Hub
	log zerolog.Logger
}

func (r *SentryReporter) Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
	logWithTags(r.log.Error(), tags).Err(err).Msg("captured error")
}

func (r *SentryReporter) Recover(recovered interface{}, tags map[string]string) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.Recover(recovered)
	})
	logWithTags(r.log.Error(), tags).Interface("panic", recovered).Msg("recovered panic")
}

func (r *SentryReporter) Flush(timeout time.Duration) {
	r.hub.Flush(timeout)
}

// LogReporter only logs
type LogReporter struct {
	log zerolog.Logger
}

// NewLogReporter returns a reporter that writes to logger
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{log: logger}
}

func (r *LogReporter) Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	logWithTags(r.log.Error(), tags).Err(err).Msg("captured error")
}

func (r *LogReporter) Recover(recovered interface{}, tags map[string]string) {
	logWithTags(r.log.Error(), tags).Interface("panic", recovered).Msg("recovered panic")
}

func (r *LogReporter) Flush(time.Duration) {}

func logWithTags(ev *zerolog.Event, tags map[string]string) *zerolog.Event {
	for k, v := range tags {
		ev = ev.Str(k, v)
	}
	return ev
}
