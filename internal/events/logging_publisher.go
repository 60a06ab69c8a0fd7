package events

import (
	"context"
	"sort"

	"github.com/runweave/runweave/internal/logger"
)

// LoggingPublisher renders each event as a structured log entry. It is the
// default transport when no pub/sub channel is wired in.
type LoggingPublisher struct {
	log *logger.Logger
}

// NewLoggingPublisher creates a publisher that writes events via the
// structured logger.
func NewLoggingPublisher(log *logger.Logger) *LoggingPublisher {
	return &LoggingPublisher{log: log}
}

// Publish implements Publisher.
func (p *LoggingPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.log == nil {
		return nil
	}

	fields := map[string]any{
		"run_id":     event.RunID,
		"event_type": string(event.Type),
		"seq":        event.Seq,
	}

	keys := make([]string, 0, len(event.Payload))
	for key := range event.Payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fields["payload_"+key] = event.Payload[key]
	}

	p.log.WithFields(fields).Info("run event")
	return nil
}
