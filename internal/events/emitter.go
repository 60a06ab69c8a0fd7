package events

import (
	"context"
	"time"

	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/plan"
)

// Emitter publishes the event stream for one run. It stamps sequence
// numbers in transition order and guarantees exactly one terminal event per
// run; duplicate terminal requests are dropped so consumers may treat
// run_completed as idempotent.
type Emitter struct {
	runID    string
	pub      Publisher
	log      *logger.Logger
	clock    func() time.Time
	seq      int
	terminal bool
}

// NewEmitter creates an emitter for the given run.
func NewEmitter(runID string, pub Publisher, log *logger.Logger) *Emitter {
	if log == nil {
		log = logger.Discard()
	}
	return &Emitter{runID: runID, pub: pub, log: log, clock: time.Now}
}

// WithClock overrides the timestamp source, for tests.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

func (e *Emitter) emit(ctx context.Context, eventType Type, payload map[string]any) {
	if e.pub == nil {
		return
	}
	e.seq++
	event := Event{
		RunID:   e.runID,
		Type:    eventType,
		Seq:     e.seq,
		At:      e.clock(),
		Payload: payload,
	}
	if err := e.pub.Publish(ctx, event); err != nil {
		e.log.Error(err, "event publish failed")
	}
}

// RunStatus reports a run lifecycle transition.
func (e *Emitter) RunStatus(ctx context.Context, status string) {
	e.emit(ctx, TypeRunStatus, map[string]any{"status": status})
}

// PlanGenerated echoes the resolved plan plus diff and missing-field
// summaries.
func (e *Emitter) PlanGenerated(ctx context.Context, p *plan.Plan, diff string, missing []string) {
	payload := map[string]any{"plan": p}
	if diff != "" {
		payload["diff"] = diff
	}
	if len(missing) > 0 {
		payload["missing"] = missing
	}
	e.emit(ctx, TypePlanGenerated, payload)
}

// ToolCalled reports a step dispatch.
func (e *Emitter) ToolCalled(ctx context.Context, stepID, toolName string) {
	e.emit(ctx, TypeToolCalled, map[string]any{"stepId": stepID, "tool": toolName})
}

// ToolSucceeded reports a step commit with its duration.
func (e *Emitter) ToolSucceeded(ctx context.Context, stepID, toolName string, duration time.Duration) {
	e.emit(ctx, TypeToolSucceeded, map[string]any{
		"stepId":     stepID,
		"tool":       toolName,
		"durationMs": duration.Milliseconds(),
	})
}

// ToolFailed reports a step failure with its error code and message.
func (e *Emitter) ToolFailed(ctx context.Context, stepID, toolName, code, message string) {
	e.emit(ctx, TypeToolFailed, map[string]any{
		"stepId":  stepID,
		"tool":    toolName,
		"code":    code,
		"message": message,
	})
}

// ApprovalAwaiting reports the step ids pending approval.
func (e *Emitter) ApprovalAwaiting(ctx context.Context, stepIDs []string) {
	e.emit(ctx, TypeApprovalAwaiting, map[string]any{"stepIds": stepIDs})
}

// AwaitingInput reports the questions blocking the run.
func (e *Emitter) AwaitingInput(ctx context.Context, questions []plan.Question) {
	e.emit(ctx, TypeAwaitingInput, map[string]any{"questions": questions})
}

// RunCompleted publishes the terminal event. Only the first call for a run
// emits; later calls are no-ops.
func (e *Emitter) RunCompleted(ctx context.Context, status, summary string) {
	if e.terminal {
		return
	}
	e.terminal = true
	payload := map[string]any{"status": status}
	if summary != "" {
		payload["summary"] = summary
	}
	e.emit(ctx, TypeRunCompleted, payload)
}
