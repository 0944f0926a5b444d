package emitter

import (
	"context"
	"log/slog"
)

// LogSink writes one structured line per event. It is always installed so
// that verdicts are auditable even without external sinks.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, ev *Event) error {
	s.logger.InfoContext(ctx, "[Audit] Verdict emitted",
		"event_id", ev.ID,
		"type", ev.Type,
		"request_id", ev.RequestID(),
		"session_id", ev.Subject,
		"outcome", ev.Outcome(),
		"failure_reason", ev.FailureReason(),
		"policy_flags", ev.PolicyFlags(),
	)
	return nil
}
