package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/plan"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestEmitterStampsSequenceInOrder(t *testing.T) {
	t.Parallel()

	sink := NewSink()
	e := NewEmitter("r1", sink, nil).WithClock(fixedClock())

	ctx := context.Background()
	e.RunStatus(ctx, "executing")
	e.ToolCalled(ctx, "draft", "email.draft")
	e.ToolSucceeded(ctx, "draft", "email.draft", 150*time.Millisecond)

	captured := sink.Events()
	require.Len(t, captured, 3)
	for i, event := range captured {
		require.Equal(t, i+1, event.Seq)
		require.Equal(t, "r1", event.RunID)
	}
	require.Equal(t, []Type{TypeRunStatus, TypeToolCalled, TypeToolSucceeded}, sink.Types())
	require.Equal(t, int64(150), captured[2].Payload["durationMs"])
}

func TestEmitterTerminalEventFiresOnce(t *testing.T) {
	t.Parallel()

	sink := NewSink()
	e := NewEmitter("r1", sink, nil).WithClock(fixedClock())

	ctx := context.Background()
	e.RunCompleted(ctx, "succeeded", "done")
	e.RunCompleted(ctx, "succeeded", "done")

	require.Len(t, sink.Events(), 1)
	require.Equal(t, TypeRunCompleted, sink.Events()[0].Type)
}

func TestEmitterToolFailedCarriesCode(t *testing.T) {
	t.Parallel()

	sink := NewSink()
	e := NewEmitter("r1", sink, nil).WithClock(fixedClock())

	e.ToolFailed(context.Background(), "send-0", "email.send", "rate_limited", "slow down")

	event := sink.Events()[0]
	require.Equal(t, TypeToolFailed, event.Type)
	require.Equal(t, "rate_limited", event.Payload["code"])
	require.Equal(t, "slow down", event.Payload["message"])
}

func TestEmitterAwaitingPayloads(t *testing.T) {
	t.Parallel()

	sink := NewSink()
	e := NewEmitter("r1", sink, nil).WithClock(fixedClock())

	ctx := context.Background()
	e.ApprovalAwaiting(ctx, []string{"send-0", "send-1"})
	e.AwaitingInput(ctx, []plan.Question{{Key: "dueDate", Type: plan.QuestionDate}})

	captured := sink.Events()
	require.Equal(t, []string{"send-0", "send-1"}, captured[0].Payload["stepIds"])
	require.Len(t, captured[1].Payload["questions"], 1)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, event Event) error {
	return fmt.Errorf("transport down")
}

func TestEmitterSwallowsPublishFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Options{Level: "error", Writer: &buf})
	require.NoError(t, err)

	e := NewEmitter("r1", failingPublisher{}, log).WithClock(fixedClock())
	e.RunStatus(context.Background(), "executing")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "event publish failed", entry["message"])
}

func TestMultiPublishesToAll(t *testing.T) {
	t.Parallel()

	first, second := NewSink(), NewSink()
	multi := Multi{first, failingPublisher{}, second}

	err := multi.Publish(context.Background(), Event{RunID: "r1", Type: TypeRunStatus})
	require.Error(t, err)
	require.Len(t, first.Events(), 1)
	require.Len(t, second.Events(), 1)
}

func TestLoggingPublisherWritesStructuredEntry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Options{Level: "info", Writer: &buf})
	require.NoError(t, err)

	p := NewLoggingPublisher(log)
	require.NoError(t, p.Publish(context.Background(), Event{
		RunID:   "r1",
		Type:    TypeToolCalled,
		Seq:     4,
		Payload: map[string]any{"stepId": "send-0"},
	}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "r1", entry["run_id"])
	require.Equal(t, "tool.called", entry["event_type"])
	require.Equal(t, "send-0", entry["payload_stepId"])
}
