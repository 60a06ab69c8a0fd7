// Package run holds the run-level data model: the immutable per-run context,
// the mutable state processed by the executor, and the audit records the
// engine emits along the way.
package run

import (
	"time"

	"github.com/runweave/runweave/internal/plan"
)

// Mode controls whether execution pauses for approval.
type Mode string

const (
	// ModePreview stops after plan resolution and diff construction.
	ModePreview Mode = "PREVIEW"
	// ModeApproval pauses before any high-risk step until approved.
	ModeApproval Mode = "APPROVAL"
	// ModeAuto executes every step without approval gates.
	ModeAuto Mode = "AUTO"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusPlanning         Status = "planning"
	StatusExecuting        Status = "executing"
	StatusAwaitingInput    Status = "awaiting_input"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusPartial          Status = "partial"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusPartial:
		return true
	}
	return false
}

// StepStatus tracks one concrete (post-expansion) step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCommitted StepStatus = "committed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
	StepAwaiting  StepStatus = "awaiting_approval"
)

// Context is immutable per-run metadata, created once at run start. Now is
// injected rather than read from the wall clock so step expansion stays
// deterministic and testable.
type Context struct {
	RunID    string
	UserID   string
	TeamID   string
	Scopes   []string
	TraceID  string
	Timezone string
	Now      time.Time
	Budget   *float64
}

// ChatMessage is one turn of the originating conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is the original user request handed off by the planner.
type Input struct {
	Prompt   string        `json:"prompt"`
	Messages []ChatMessage `json:"messages,omitempty"`
}

// AwaitingKind distinguishes the two re-entrant pause points.
type AwaitingKind string

const (
	AwaitingInput    AwaitingKind = "input"
	AwaitingApproval AwaitingKind = "approval"
)

// Awaiting describes what an interrupted run is waiting on.
type Awaiting struct {
	Kind      AwaitingKind    `json:"kind"`
	Questions []plan.Question `json:"questions,omitempty"`
	StepIDs   []string        `json:"stepIds,omitempty"`
}

// Scratch is the executor's working memory for a run.
type Scratch struct {
	Intent     string                `json:"intent,omitempty"`
	Plan       *plan.Plan            `json:"plan,omitempty"`
	StepsRun   int                   `json:"stepsRun"`
	Answers    map[string]any        `json:"answers,omitempty"`
	Variables  map[string]any        `json:"variables,omitempty"`
	Results    map[string]any        `json:"results,omitempty"`
	StepStates map[string]StepStatus `json:"stepStates,omitempty"`
	Approved   map[string]bool       `json:"approved,omitempty"`
	IdemKeys   map[string]string     `json:"idemKeys,omitempty"`
	Spent      float64               `json:"spent,omitempty"`
	PlanSent   bool                  `json:"planSent,omitempty"`
	Awaiting   *Awaiting             `json:"awaiting,omitempty"`
}

// Commit records one durable step result.
type Commit struct {
	StepID   string        `json:"stepId"`
	Tool     string        `json:"tool"`
	Result   any           `json:"result,omitempty"`
	Duration time.Duration `json:"duration"`
}

// UndoDescriptor carries provider-specific arguments sufficient to reverse a
// committed step's effect.
type UndoDescriptor struct {
	StepID string         `json:"stepId"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
}

// Output is the user-facing surface of a run.
type Output struct {
	Summary  string           `json:"summary,omitempty"`
	Diff     string           `json:"diff,omitempty"`
	Commits  []Commit         `json:"commits,omitempty"`
	Undo     []UndoDescriptor `json:"undo,omitempty"`
	Awaiting *Awaiting        `json:"awaiting,omitempty"`
}

// State is the mutable unit processed by the engine. It is mutated only by
// the executor during a single execution pass and becomes immutable once a
// terminal status is reached.
type State struct {
	Input   Input   `json:"input"`
	Mode    Mode    `json:"mode"`
	Ctx     Context `json:"ctx"`
	Status  Status  `json:"status"`
	Scratch Scratch `json:"scratch"`
	Output  Output  `json:"output"`
	Error   string  `json:"error,omitempty"`
}

// NewState assembles a fresh run state in the planning status.
func NewState(ctx Context, input Input, mode Mode, p *plan.Plan) *State {
	variables := map[string]any{}
	if p != nil {
		for key, value := range p.Variables {
			variables[key] = value
		}
	}

	return &State{
		Input:  input,
		Mode:   mode,
		Ctx:    ctx,
		Status: StatusPlanning,
		Scratch: Scratch{
			Plan:       p,
			Answers:    map[string]any{},
			Variables:  variables,
			Results:    map[string]any{},
			StepStates: map[string]StepStatus{},
			Approved:   map[string]bool{},
			IdemKeys:   map[string]string{},
		},
	}
}

// Clone returns a deep copy safe for snapshots and in-memory stores.
func Clone(in State) State {
	out := in
	out.Ctx.Scopes = append([]string(nil), in.Ctx.Scopes...)
	if in.Ctx.Budget != nil {
		budget := *in.Ctx.Budget
		out.Ctx.Budget = &budget
	}
	out.Input.Messages = append([]ChatMessage(nil), in.Input.Messages...)
	out.Scratch.Answers = cloneMap(in.Scratch.Answers)
	out.Scratch.Variables = cloneMap(in.Scratch.Variables)
	out.Scratch.Results = cloneMap(in.Scratch.Results)
	out.Scratch.StepStates = cloneTyped(in.Scratch.StepStates)
	out.Scratch.Approved = cloneTyped(in.Scratch.Approved)
	out.Scratch.IdemKeys = cloneTyped(in.Scratch.IdemKeys)
	out.Scratch.Awaiting = cloneAwaiting(in.Scratch.Awaiting)
	out.Output.Commits = append([]Commit(nil), in.Output.Commits...)
	out.Output.Undo = append([]UndoDescriptor(nil), in.Output.Undo...)
	out.Output.Awaiting = cloneAwaiting(in.Output.Awaiting)
	return out
}

func cloneAwaiting(in *Awaiting) *Awaiting {
	if in == nil {
		return nil
	}
	out := *in
	out.Questions = append([]plan.Question(nil), in.Questions...)
	out.StepIDs = append([]string(nil), in.StepIDs...)
	return &out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTyped[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
