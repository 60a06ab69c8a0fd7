package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runweave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleState(runID string) run.State {
	p := &plan.Plan{
		Variables: map[string]any{"subject": "Q3 update"},
		Steps:     []plan.Step{{ID: "send", Tool: "email.send", Args: map[string]any{"subject": "$var.subject"}}},
	}
	st := run.NewState(run.Context{RunID: runID, UserID: "u1"}, run.Input{Prompt: "send it"}, run.ModeAuto, p)
	st.Status = run.StatusSucceeded
	st.Scratch.StepStates["send"] = run.StepCommitted
	st.Output.Summary = "completed: 1 step(s) committed"
	return *st
}

func TestStoreSaveGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	require.NoError(t, store.Save(sampleState("r1")))

	got, err := store.Get("r1")
	require.NoError(t, err)
	require.Equal(t, "r1", got.Ctx.RunID)
	require.Equal(t, run.StatusSucceeded, got.Status)
	require.Equal(t, run.StepCommitted, got.Scratch.StepStates["send"])
	require.Equal(t, "Q3 update", got.Scratch.Variables["subject"])
}

func TestStoreSaveUpserts(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	state := sampleState("r1")
	state.Status = run.StatusExecuting
	require.NoError(t, store.Save(state))

	state.Status = run.StatusPartial
	require.NoError(t, store.Save(state))

	got, err := store.Get("r1")
	require.NoError(t, err)
	require.Equal(t, run.StatusPartial, got.Status)

	states, err := store.List()
	require.NoError(t, err)
	require.Len(t, states, 1)
}

func TestStoreGetUnknownRun(t *testing.T) {
	t.Parallel()

	_, err := openTestStore(t).Get("missing")
	require.ErrorIs(t, err, run.ErrNotFound)
}

func TestStoreListOrdersByRunID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	for _, id := range []string{"r2", "r1"} {
		require.NoError(t, store.Save(sampleState(id)))
	}

	states, err := store.List()
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, "r1", states[0].Ctx.RunID)
}

func TestStepLogRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	started := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(run.StepLogEntry{
		RunID:     "r1",
		StepID:    "send",
		Tool:      "email.send",
		Status:    run.LogStarted,
		Request:   map[string]any{"to": "ana@example.com"},
		StartedAt: started,
	}))
	require.NoError(t, store.Append(run.StepLogEntry{
		RunID:        "r1",
		StepID:       "send",
		Tool:         "email.send",
		Status:       run.LogFailed,
		ErrorCode:    "rate_limited",
		ErrorMessage: "slow down",
		StartedAt:    started,
		FinishedAt:   started.Add(2 * time.Second),
	}))

	entries, err := store.ListByRun("r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, run.LogStarted, entries[0].Status)
	require.Equal(t, map[string]any{"to": "ana@example.com"}, entries[0].Request)
	require.True(t, entries[0].FinishedAt.IsZero())

	require.Equal(t, run.LogFailed, entries[1].Status)
	require.Equal(t, "rate_limited", entries[1].ErrorCode)
	require.False(t, entries[1].FinishedAt.IsZero())

	other, err := store.ListByRun("r2")
	require.NoError(t, err)
	require.Empty(t, other)
}
