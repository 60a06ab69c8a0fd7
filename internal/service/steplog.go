package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/runweave/runweave/internal/events"
	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/run"
)

// stepLogRecorder turns tool events into persisted audit entries. It rides
// the event stream so the executor itself never touches storage.
type stepLogRecorder struct {
	logs run.StepLogStore
	log  *logger.Logger

	mu      sync.Mutex
	started map[string]time.Time
}

var _ events.Publisher = (*stepLogRecorder)(nil)

func newStepLogRecorder(logs run.StepLogStore, log *logger.Logger) *stepLogRecorder {
	return &stepLogRecorder{logs: logs, log: log, started: make(map[string]time.Time)}
}

// Publish implements events.Publisher. Non-tool events pass through.
func (r *stepLogRecorder) Publish(ctx context.Context, event events.Event) error {
	stepID, _ := event.Payload["stepId"].(string)
	toolName, _ := event.Payload["tool"].(string)
	action := toolAction(toolName)

	switch event.Type {
	case events.TypeToolCalled:
		r.mu.Lock()
		r.started[stepID] = event.At
		r.mu.Unlock()
		return r.logs.Append(run.StepLogEntry{
			RunID:     event.RunID,
			StepID:    stepID,
			Tool:      toolName,
			Action:    action,
			Status:    run.LogStarted,
			StartedAt: event.At,
		})

	case events.TypeToolSucceeded:
		return r.logs.Append(run.StepLogEntry{
			RunID:      event.RunID,
			StepID:     stepID,
			Tool:       toolName,
			Action:     action,
			Status:     run.LogSucceeded,
			StartedAt:  r.startOf(stepID, event.At),
			FinishedAt: event.At,
		})

	case events.TypeToolFailed:
		code, _ := event.Payload["code"].(string)
		message, _ := event.Payload["message"].(string)
		return r.logs.Append(run.StepLogEntry{
			RunID:        event.RunID,
			StepID:       stepID,
			Tool:         toolName,
			Action:       action,
			Status:       run.LogFailed,
			ErrorCode:    code,
			ErrorMessage: message,
			StartedAt:    r.startOf(stepID, event.At),
			FinishedAt:   event.At,
		})
	}

	return nil
}

// toolAction extracts the verb from a namespaced tool name: "email.send"
// acts as "send". Un-namespaced names are their own action.
func toolAction(toolName string) string {
	if i := strings.LastIndex(toolName, "."); i >= 0 {
		return toolName[i+1:]
	}
	return toolName
}

func (r *stepLogRecorder) startOf(stepID string, fallback time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at, ok := r.started[stepID]; ok {
		delete(r.started, stepID)
		return at
	}
	return fallback
}
