// Package service is the orchestration layer above the engine: it owns run
// lifecycles, validates answers, applies approvals, snapshots state around
// execution passes, and keeps the per-run event history.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/runweave/runweave/internal/answer"
	"github.com/runweave/runweave/internal/engine"
	"github.com/runweave/runweave/internal/events"
	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
	"github.com/runweave/runweave/internal/tool"
	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// Config wires the service's collaborators.
type Config struct {
	Store    run.Store
	StepLogs run.StepLogStore
	Registry *tool.Registry
	Creds    tool.CredentialResolver
	Logger   *logger.Logger
	Engine   engine.Options

	// Publisher is an optional external transport added alongside the
	// per-run history sink.
	Publisher events.Publisher
}

// StartRequest carries everything needed to begin a run.
type StartRequest struct {
	Input    run.Input
	Mode     run.Mode
	Plan     *plan.Plan
	UserID   string
	TeamID   string
	Scopes   []string
	Timezone string
	Budget   *float64
}

// Service coordinates runs end to end. Execution passes are synchronous:
// Start, SubmitAnswers and Approve return once the run has either paused
// again or reached a terminal status.
type Service struct {
	store    run.Store
	logs     run.StepLogStore
	executor *engine.Executor
	log      *logger.Logger
	extra    events.Publisher

	mu   sync.Mutex
	runs map[string]*runtime
}

// runtime is the in-memory side of an active run: its state, the history
// sink, the emitter carrying sequence continuity across passes, and the
// cancel hook for the run-scoped context.
type runtime struct {
	mu      sync.Mutex
	state   *run.State
	sink    *events.Sink
	emitter *events.Emitter
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a service. Store and Registry are required.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("service: store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("service: tool registry is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Service{
		store:    cfg.Store,
		logs:     cfg.StepLogs,
		executor: engine.New(cfg.Registry, cfg.Creds, log, cfg.Engine),
		log:      log,
		extra:    cfg.Publisher,
		runs:     make(map[string]*runtime),
	}, nil
}

// Start validates the plan, creates the run and drives the first execution
// pass. The returned state is a snapshot; later passes never mutate it.
func (s *Service) Start(ctx context.Context, req StartRequest) (run.State, error) {
	if req.Plan == nil {
		return run.State{}, runweaveerrors.NewValidationError("plan", "plan is required", nil)
	}
	if err := plan.Validate(req.Plan); err != nil {
		return run.State{}, err
	}
	switch req.Mode {
	case run.ModePreview, run.ModeApproval, run.ModeAuto:
	default:
		return run.State{}, runweaveerrors.NewValidationError("mode", fmt.Sprintf("unknown mode %q", req.Mode), nil)
	}

	rc := run.Context{
		RunID:    uuid.NewString(),
		UserID:   req.UserID,
		TeamID:   req.TeamID,
		Scopes:   req.Scopes,
		TraceID:  uuid.NewString(),
		Timezone: req.Timezone,
		Budget:   req.Budget,
	}

	rt := s.register(ctx, run.NewState(rc, req.Input, req.Mode, req.Plan))

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return s.advance(rt)
}

// SubmitAnswers validates answers against the questions the run paused on,
// merges the normalized values and resumes execution.
func (s *Service) SubmitAnswers(ctx context.Context, runID string, answers map[string]any) (run.State, error) {
	rt, err := s.runtimeFor(runID)
	if err != nil {
		return run.State{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := rt.state
	if st.Status != run.StatusAwaitingInput || st.Scratch.Awaiting == nil {
		return run.State{}, runweaveerrors.NewValidationError("status", fmt.Sprintf("run is %s, not awaiting input", st.Status), nil)
	}

	result := answer.Validate(st.Scratch.Awaiting.Questions, answers)
	if !result.OK {
		return run.State{}, runweaveerrors.NewFieldErrors(result.Errors)
	}

	for key, value := range result.Normalized {
		st.Scratch.Answers[key] = value
	}

	return s.advance(rt)
}

// Approve marks steps as approved and resumes the run. An empty stepIDs
// slice approves everything the run is currently waiting on, so a client
// confirming the whole prompt needs no bookkeeping. Approving an already
// approved or already committed step is a no-op, which makes the endpoint
// safe to retry.
func (s *Service) Approve(ctx context.Context, runID string, stepIDs []string) (run.State, error) {
	rt, err := s.runtimeFor(runID)
	if err != nil {
		return run.State{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := rt.state
	if st.Status.Terminal() {
		// Retried approvals after completion return the settled run.
		return run.Clone(*st), nil
	}
	if st.Status != run.StatusAwaitingApproval || st.Scratch.Awaiting == nil {
		return run.State{}, runweaveerrors.NewValidationError("status", fmt.Sprintf("run is %s, not awaiting approval", st.Status), nil)
	}

	if len(stepIDs) == 0 {
		stepIDs = st.Scratch.Awaiting.StepIDs
	}
	pending := make(map[string]bool, len(st.Scratch.Awaiting.StepIDs))
	for _, id := range st.Scratch.Awaiting.StepIDs {
		pending[id] = true
	}
	for _, id := range stepIDs {
		if !pending[id] && !st.Scratch.Approved[id] {
			return run.State{}, runweaveerrors.NewValidationError("stepIds", fmt.Sprintf("step %q is not awaiting approval", id), nil)
		}
		st.Scratch.Approved[id] = true
	}

	return s.advance(rt)
}

// Cancel stops a run. An in-flight pass finishes its dispatched steps and
// settles on its own; a paused run settles here. Terminal runs are left
// untouched.
func (s *Service) Cancel(ctx context.Context, runID string) (run.State, error) {
	rt, err := s.runtimeFor(runID)
	if err != nil {
		return run.State{}, err
	}

	rt.cancel()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := rt.state
	if st.Status.Terminal() {
		return run.Clone(*st), nil
	}

	// Expanded children carry ids the plan never listed, so both the
	// declared steps and every tracked step state are swept.
	ids := map[string]struct{}{}
	for _, step := range stepsOf(st) {
		ids[step.ID] = struct{}{}
	}
	for id := range st.Scratch.StepStates {
		ids[id] = struct{}{}
	}

	committed := 0
	for id := range ids {
		switch st.Scratch.StepStates[id] {
		case run.StepCommitted:
			committed++
		case run.StepFailed, run.StepSkipped, run.StepCancelled:
		default:
			st.Scratch.StepStates[id] = run.StepCancelled
		}
	}

	st.Status = run.StatusPartial
	st.Output.Summary = fmt.Sprintf("cancelled: %d step(s) committed before cancellation", committed)
	st.Scratch.Awaiting = nil
	st.Output.Awaiting = nil
	rt.emitter.RunCompleted(rt.ctx, string(st.Status), st.Output.Summary)

	return s.snapshot(rt)
}

// Get returns the current snapshot of a run, falling back to the store for
// runs this process no longer holds in memory.
func (s *Service) Get(runID string) (run.State, error) {
	s.mu.Lock()
	rt, ok := s.runs[runID]
	s.mu.Unlock()

	if ok {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return run.Clone(*rt.state), nil
	}
	return s.store.Get(runID)
}

// Events returns the event history captured for a run in sequence order.
func (s *Service) Events(runID string) ([]events.Event, error) {
	s.mu.Lock()
	rt, ok := s.runs[runID]
	s.mu.Unlock()

	if !ok {
		// The history sink lives with the process; for recovered runs only
		// the persisted step log remains.
		if _, err := s.store.Get(runID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rt.sink.Events(), nil
}

// StepLogs returns the persisted audit entries for a run.
func (s *Service) StepLogs(runID string) ([]run.StepLogEntry, error) {
	if s.logs == nil {
		return nil, nil
	}
	return s.logs.ListByRun(runID)
}

// List returns snapshots of every persisted run.
func (s *Service) List() ([]run.State, error) {
	return s.store.List()
}

func (s *Service) register(ctx context.Context, st *run.State) *runtime {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sink := events.NewSink()

	publishers := events.Multi{sink}
	if s.extra != nil {
		publishers = append(publishers, s.extra)
	}
	if s.logs != nil {
		publishers = append(publishers, newStepLogRecorder(s.logs, s.log))
	}

	rt := &runtime{
		state:   st,
		sink:    sink,
		emitter: events.NewEmitter(st.Ctx.RunID, publishers, s.log),
		ctx:     runCtx,
		cancel:  cancel,
	}

	s.mu.Lock()
	s.runs[st.Ctx.RunID] = rt
	s.mu.Unlock()
	return rt
}

// advance drives one execution pass and snapshots the outcome. Callers hold
// rt.mu.
func (s *Service) advance(rt *runtime) (run.State, error) {
	if err := s.executor.Execute(rt.ctx, rt.state, rt.emitter); err != nil {
		if _, saveErr := s.snapshot(rt); saveErr != nil {
			s.log.Error(saveErr, "run snapshot failed after execution error")
		}
		return run.Clone(*rt.state), err
	}
	return s.snapshot(rt)
}

func (s *Service) snapshot(rt *runtime) (run.State, error) {
	snap := run.Clone(*rt.state)
	if err := s.store.Save(snap); err != nil {
		return snap, runweaveerrors.NewExecutionError("", fmt.Errorf("persisting run %s: %w", rt.state.Ctx.RunID, err))
	}
	return snap, nil
}

func (s *Service) runtimeFor(runID string) (*runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.runs[runID]
	if !ok {
		return nil, runweaveerrors.NewValidationError("runId", fmt.Sprintf("unknown run %q", runID), nil)
	}
	return rt, nil
}

func stepsOf(st *run.State) []plan.Step {
	if st.Scratch.Plan == nil {
		return nil
	}
	return st.Scratch.Plan.Steps
}
