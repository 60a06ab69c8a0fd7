package run

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores for unknown run ids.
var ErrNotFound = errors.New("run not found")

// StepLogStatus is the status recorded on an audit entry.
type StepLogStatus string

const (
	LogStarted   StepLogStatus = "started"
	LogSucceeded StepLogStatus = "succeeded"
	LogFailed    StepLogStatus = "failed"
)

// StepLogEntry is an append-only audit record for one tool invocation
// attempt. Entries are persisted by an external collaborator, never held as
// engine state.
type StepLogEntry struct {
	RunID        string        `json:"runId"`
	StepID       string        `json:"stepId"`
	Tool         string        `json:"tool"`
	Action       string        `json:"action,omitempty"`
	Status       StepLogStatus `json:"status"`
	Request      any           `json:"request,omitempty"`
	Result       any           `json:"result,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt,omitempty"`
}

// Store persists run snapshots. The executor never writes storage directly;
// the service layer snapshots state around execution passes.
type Store interface {
	Save(state State) error
	Get(runID string) (State, error)
	List() ([]State, error)
}

// StepLogStore persists audit entries keyed by run id and tool.
type StepLogStore interface {
	Append(entry StepLogEntry) error
	ListByRun(runID string) ([]StepLogEntry, error)
}
