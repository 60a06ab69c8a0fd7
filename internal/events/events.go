// Package events maps executor transitions to the ordered, typed event
// stream external transports consume.
package events

import (
	"context"
	"time"
)

// Type discriminates event payloads on the run channel.
type Type string

const (
	TypeRunStatus        Type = "run_status"
	TypePlanGenerated    Type = "plan_generated"
	TypeToolCalled       Type = "tool.called"
	TypeToolSucceeded    Type = "tool.succeeded"
	TypeToolFailed       Type = "tool.failed"
	TypeApprovalAwaiting Type = "approval.awaiting"
	TypeAwaitingInput    Type = "awaiting.input"
	TypeRunCompleted     Type = "run_completed"
)

// Event is one entry on a run's logical channel. Seq increases
// monotonically per run in transition order; no ordering is guaranteed
// across runs.
type Event struct {
	RunID   string         `json:"runId"`
	Type    Type           `json:"type"`
	Seq     int            `json:"seq"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Publisher delivers events to a transport. Delivery is best-effort:
// the engine logs publish failures and never feeds them back into
// execution, because run state is the source of truth, not the stream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi fans an event out to several publishers, keeping going on error.
type Multi []Publisher

// Publish implements Publisher. The first error is returned after all
// publishers have been attempted.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
