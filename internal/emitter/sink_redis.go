package emitter

import (
	"context"
	"fmt"
	"strings"
)

// StreamAdder is the subset of infra.GoRedisAdapter used for audit streams.
type StreamAdder interface {
	XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]any) (string, error)
}

// RedisStreamSink appends each event to a capped Redis stream.
type RedisStreamSink struct {
	client StreamAdder
	stream string
	maxLen int64
}

func NewRedisStreamSink(client StreamAdder, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = "verification:audit"
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Deliver(ctx context.Context, ev *Event) error {
	payload, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}

	_, err = s.client.XAdd(ctx, s.stream, s.maxLen, map[string]any{
		"event_id":       ev.ID,
		"type":           string(ev.Type),
		"request_id":     ev.RequestID(),
		"session_id":     ev.Subject,
		"outcome":        ev.Outcome(),
		"failure_reason": ev.FailureReason(),
		"policy_flags":   strings.Join(ev.PolicyFlags(), ","),
		"payload":        string(payload),
	})
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
