// Package engine drives a resolved plan to completion: it expands fan-out
// steps, schedules the resulting DAG under a concurrency bound, enforces
// approval gates, retries transient failures, and records commits and undo
// descriptors on the run state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/runweave/runweave/internal/events"
	"github.com/runweave/runweave/internal/expand"
	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/placeholder"
	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
	"github.com/runweave/runweave/internal/tool"
	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// Options tune one executor instance.
type Options struct {
	Concurrency int
	StepTimeout time.Duration
	Retry       RetryPolicy
}

// Executor owns run execution. A single executor instance coordinates each
// run; all RunState mutations happen on the goroutine calling Execute, with
// step results merged back through that single point.
type Executor struct {
	registry *tool.Registry
	creds    tool.CredentialResolver
	log      *logger.Logger
	opts     Options
}

// New creates an executor. The registry must be frozen before the first run.
func New(registry *tool.Registry, creds tool.CredentialResolver, log *logger.Logger, opts Options) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Executor{registry: registry, creds: creds, log: log, opts: opts}
}

// Execute advances a run as far as it can go in one pass. It returns with
// the state either paused (awaiting input or approval) or terminal. Calling
// Execute again after answers or approvals arrive resumes the run;
// committed steps are never re-dispatched.
func (e *Executor) Execute(ctx context.Context, st *run.State, em *events.Emitter) error {
	if st == nil {
		return runweaveerrors.NewExecutionError("", fmt.Errorf("run state is nil"))
	}
	if st.Status.Terminal() {
		return nil
	}
	if st.Scratch.Plan == nil {
		st.Status = run.StatusFailed
		st.Error = "no plan attached to run"
		em.RunCompleted(ctx, string(run.StatusFailed), st.Error)
		return runweaveerrors.NewExecutionError("", fmt.Errorf("no plan attached to run"))
	}

	log := e.log.WithRun(st.Ctx.RunID, st.Ctx.TraceID)
	p := st.Scratch.Plan

	// Answers merge into variables before anything resolves against them.
	for key, value := range st.Scratch.Answers {
		st.Scratch.Variables[key] = value
	}

	if pending := unansweredQuestions(p.Questions, st.Scratch.Answers); len(pending) > 0 {
		pause := &run.Awaiting{Kind: run.AwaitingInput, Questions: pending}
		st.Status = run.StatusAwaitingInput
		st.Scratch.Awaiting = pause
		st.Output.Awaiting = pause
		em.RunStatus(ctx, string(run.StatusAwaitingInput))
		em.AwaitingInput(ctx, pending)
		return nil
	}
	st.Scratch.Awaiting = nil
	st.Output.Awaiting = nil

	steps, failedExpansion := e.expandPlan(ctx, p, st, em, log)

	if !st.Scratch.PlanSent {
		st.Scratch.PlanSent = true
		resolved := *p
		resolved.Steps = steps
		st.Output.Diff = buildDiff(steps)
		em.PlanGenerated(ctx, &resolved, st.Output.Diff, e.missingCredentials(steps, st.Ctx.UserID))
	}

	if st.Mode == run.ModePreview {
		st.Status = run.StatusSucceeded
		st.Output.Summary = fmt.Sprintf("preview: %d steps planned, none executed", len(steps))
		em.RunCompleted(ctx, string(run.StatusSucceeded), st.Output.Summary)
		return nil
	}

	st.Status = run.StatusExecuting
	em.RunStatus(ctx, string(run.StatusExecuting))

	graph, err := BuildDAG(steps)
	if err != nil {
		st.Status = run.StatusFailed
		st.Error = err.Error()
		em.RunCompleted(ctx, string(run.StatusFailed), st.Error)
		return err
	}

	stepIndex := plan.StepMap(steps)
	cancelled := false

levels:
	for _, level := range graph.Levels {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		runnable, pendingApproval := e.partitionLevel(level, stepIndex, st)

		if len(runnable) > 0 {
			e.dispatchLevel(ctx, runnable, st, em, log)
		}

		if len(pendingApproval) > 0 {
			allPending := e.pendingApprovalIDs(steps, st)
			pause := &run.Awaiting{Kind: run.AwaitingApproval, StepIDs: allPending}
			st.Status = run.StatusAwaitingApproval
			st.Scratch.Awaiting = pause
			st.Output.Awaiting = pause
			em.RunStatus(ctx, string(run.StatusAwaitingApproval))
			em.ApprovalAwaiting(ctx, allPending)
			return nil
		}

		if ctx.Err() != nil {
			cancelled = true
			break levels
		}
	}

	e.settle(ctx, st, steps, failedExpansion, cancelled, em)
	return nil
}

// expandPlan fans out every template step and resolves arguments. Steps
// whose expansion source is not an array are dropped softly; steps with
// unsupported placeholder references fail immediately.
func (e *Executor) expandPlan(ctx context.Context, p *plan.Plan, st *run.State, em *events.Emitter, log *logger.Logger) ([]plan.Step, map[string]bool) {
	var concrete []plan.Step
	failed := map[string]bool{}
	childIDs := map[string][]string{}

	for _, step := range p.Steps {
		children, err := expand.Expand(step, st.Scratch.Variables)
		if err != nil {
			var expErr *runweaveerrors.ExpansionError
			if errors.As(err, &expErr) {
				log.WithFields(map[string]any{"step_id": step.ID, "expand_on": step.ExpandOn}).Warn("expansion did not yield an array, dropping step")
				childIDs[step.ID] = nil
				continue
			}

			// Unsupported placeholders and other resolution failures are
			// fatal to the step but not to its siblings.
			if st.Scratch.StepStates[step.ID] != run.StepFailed {
				st.Scratch.StepStates[step.ID] = run.StepFailed
				em.ToolCalled(ctx, step.ID, step.Tool)
				em.ToolFailed(ctx, step.ID, step.Tool, errorCode(err), err.Error())
			}
			failed[step.ID] = true
			continue
		}

		if step.ExpandOn != "" {
			ids := make([]string, len(children))
			for i, child := range children {
				ids[i] = child.ID
			}
			childIDs[step.ID] = ids
		}
		concrete = append(concrete, children...)
	}

	// Dependencies on an expanded parent follow its children. A parent
	// that expanded to nothing imposes no edge at all.
	for i := range concrete {
		var deps []string
		for _, dep := range concrete[i].DependsOn {
			if replacement, wasTemplate := childIDs[dep]; wasTemplate {
				deps = append(deps, replacement...)
				continue
			}
			deps = append(deps, dep)
		}
		concrete[i].DependsOn = deps
	}

	return concrete, failed
}

// partitionLevel splits a level into steps that can run now and steps held
// for approval. Steps whose dependencies failed or were skipped cascade to
// skipped here.
func (e *Executor) partitionLevel(level []string, stepIndex map[string]plan.Step, st *run.State) ([]plan.Step, []string) {
	var runnable []plan.Step
	var pendingApproval []string

	for _, id := range level {
		step := stepIndex[id]

		switch st.Scratch.StepStates[id] {
		case run.StepCommitted, run.StepFailed, run.StepSkipped, run.StepCancelled:
			continue
		}

		if e.dependencyBlocked(step, st) {
			st.Scratch.StepStates[id] = run.StepSkipped
			continue
		}

		if e.needsApproval(step, st) {
			st.Scratch.StepStates[id] = run.StepAwaiting
			pendingApproval = append(pendingApproval, id)
			continue
		}

		runnable = append(runnable, step)
	}

	return runnable, pendingApproval
}

func (e *Executor) dependencyBlocked(step plan.Step, st *run.State) bool {
	for _, dep := range step.DependsOn {
		switch st.Scratch.StepStates[dep] {
		case run.StepFailed, run.StepSkipped, run.StepCancelled:
			return true
		}
	}
	return false
}

// needsApproval applies risk gating and the cost budget. Risk gating only
// binds in APPROVAL mode; the budget binds in every executing mode.
func (e *Executor) needsApproval(step plan.Step, st *run.State) bool {
	if st.Scratch.Approved[step.ID] {
		return false
	}

	if st.Mode == run.ModeApproval && e.effectiveRisk(step) == plan.RiskHigh {
		return true
	}

	if st.Ctx.Budget != nil && step.CostEstimate > 0 {
		if st.Scratch.Spent+step.CostEstimate > *st.Ctx.Budget {
			return true
		}
	}

	return false
}

func (e *Executor) effectiveRisk(step plan.Step) plan.Risk {
	if step.Risk != "" {
		return step.Risk
	}
	if t, err := e.registry.Get(step.Tool); err == nil {
		return t.Risk()
	}
	return plan.RiskLow
}

// pendingApprovalIDs lists every not-yet-committed step currently held by a
// gate, so an approval prompt shows the whole picture at once.
func (e *Executor) pendingApprovalIDs(steps []plan.Step, st *run.State) []string {
	var ids []string
	for _, step := range steps {
		switch st.Scratch.StepStates[step.ID] {
		case run.StepCommitted, run.StepFailed, run.StepSkipped, run.StepCancelled:
			continue
		}
		if e.needsApproval(step, st) {
			ids = append(ids, step.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

type stepOutcome struct {
	step     plan.Step
	result   any
	err      error
	duration time.Duration
	reused   bool
}

// dispatchLevel runs one level's steps concurrently under the worker pool
// bound, then merges results back into the run state sequentially. Events
// fire from the merge so the per-run stream stays ordered.
func (e *Executor) dispatchLevel(ctx context.Context, steps []plan.Step, st *run.State, em *events.Emitter, log *logger.Logger) {
	outcomes := make([]stepOutcome, len(steps))
	pool := make(chan struct{}, e.opts.Concurrency)
	var wg sync.WaitGroup

	for i, step := range steps {
		// Idempotency: a key that already committed is not re-dispatched.
		if step.IdempotencyKey != "" {
			if priorID, ok := st.Scratch.IdemKeys[step.IdempotencyKey]; ok {
				outcomes[i] = stepOutcome{step: step, result: st.Scratch.Results[priorID], reused: true}
				continue
			}
		}

		// Late resolution: bindings saved by earlier levels (SaveAs) only
		// exist now, so arguments resolve once more against the current
		// variables. Resolution is idempotent for everything already bound.
		args, err := resolveLateArgs(step.Args, st.Scratch.Variables)
		if err != nil {
			st.Scratch.StepStates[step.ID] = run.StepFailed
			em.ToolCalled(ctx, step.ID, step.Tool)
			em.ToolFailed(ctx, step.ID, step.Tool, errorCode(err), err.Error())
			continue
		}
		step.Args = args

		st.Scratch.StepStates[step.ID] = run.StepRunning
		em.ToolCalled(ctx, step.ID, step.Tool)

		wg.Add(1)
		go func(i int, step plan.Step) {
			defer wg.Done()
			pool <- struct{}{}
			defer func() { <-pool }()

			start := time.Now()
			result, err := e.callWithRetry(ctx, step, st.Ctx)
			outcomes[i] = stepOutcome{step: step, result: result, err: err, duration: time.Since(start)}
		}(i, step)
	}

	wg.Wait()

	for _, outcome := range outcomes {
		if outcome.step.ID == "" {
			continue
		}
		e.merge(ctx, outcome, st, em, log)
	}
}

// callWithRetry invokes the tool once per attempt, backing off between
// transient failures. The per-step timeout derives from a context detached
// from run cancellation: a dispatched step runs to completion or its own
// deadline, never preempted mid-call.
func (e *Executor) callWithRetry(ctx context.Context, step plan.Step, rc run.Context) (any, error) {
	t, err := e.registry.Get(step.Tool)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StepTimeout)
		result, callErr := t.Call(stepCtx, step.Args, rc)
		cancel()

		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if !Transient(callErr) || attempt >= e.opts.Retry.MaxRetries {
			return nil, lastErr
		}

		select {
		case <-time.After(e.opts.Retry.Delay(attempt)):
		case <-ctx.Done():
			return nil, lastErr
		}
	}
}

// merge applies one outcome to the run state. This is the single mutation
// point for step results.
func (e *Executor) merge(ctx context.Context, outcome stepOutcome, st *run.State, em *events.Emitter, log *logger.Logger) {
	step := outcome.step

	if outcome.err != nil {
		st.Scratch.StepStates[step.ID] = run.StepFailed
		em.ToolFailed(ctx, step.ID, step.Tool, errorCode(outcome.err), outcome.err.Error())
		log.WithFields(map[string]any{"step_id": step.ID, "tool": step.Tool}).Error(outcome.err, "step failed")
		return
	}

	st.Scratch.StepStates[step.ID] = run.StepCommitted
	st.Scratch.Results[step.ID] = outcome.result
	st.Scratch.StepsRun++
	if !outcome.reused {
		st.Scratch.Spent += step.CostEstimate
		if step.IdempotencyKey != "" {
			st.Scratch.IdemKeys[step.IdempotencyKey] = step.ID
		}
	}
	if step.SaveAs != "" {
		st.Scratch.Variables[step.SaveAs] = outcome.result
	}

	if !outcome.reused {
		st.Output.Commits = append(st.Output.Commits, run.Commit{
			StepID:   step.ID,
			Tool:     step.Tool,
			Result:   outcome.result,
			Duration: outcome.duration,
		})
		st.Output.Undo = append(st.Output.Undo, e.undoDescriptor(step, outcome.result))
		em.ToolSucceeded(ctx, step.ID, step.Tool, outcome.duration)
	}
}

// undoDescriptor derives reversal arguments for a commit. Tools that
// implement Undoer produce provider-specific arguments; when that fails,
// the original arguments pass through unchanged as a best-effort fallback.
func (e *Executor) undoDescriptor(step plan.Step, result any) run.UndoDescriptor {
	descriptor := run.UndoDescriptor{StepID: step.ID, Tool: step.Tool, Args: step.Args}

	t, err := e.registry.Get(step.Tool)
	if err != nil {
		return descriptor
	}
	undoer, ok := t.(tool.Undoer)
	if !ok {
		return descriptor
	}

	args, undoErr := func() (args map[string]any, undoErr error) {
		defer func() {
			if r := recover(); r != nil {
				undoErr = fmt.Errorf("undo panicked: %v", r)
			}
		}()
		return undoer.Undo(result, step.Args)
	}()
	if undoErr != nil {
		e.log.Error(undoErr, "undo derivation failed, falling back to original args")
		return descriptor
	}

	descriptor.Args = args
	return descriptor
}

// settle computes the terminal status once no schedulable work remains.
func (e *Executor) settle(ctx context.Context, st *run.State, steps []plan.Step, failedExpansion map[string]bool, cancelled bool, em *events.Emitter) {
	var committed, failures, skipped, leftover int
	for _, step := range steps {
		switch st.Scratch.StepStates[step.ID] {
		case run.StepCommitted:
			committed++
		case run.StepFailed:
			failures++
		case run.StepSkipped:
			skipped++
		default:
			leftover++
			if cancelled {
				st.Scratch.StepStates[step.ID] = run.StepCancelled
			}
		}
	}
	failures += len(failedExpansion)

	switch {
	case cancelled:
		st.Status = run.StatusPartial
		st.Output.Summary = fmt.Sprintf("cancelled: %d committed, %d not started", committed, leftover)
	case failures > 0 && committed == 0 && skipped == 0:
		st.Status = run.StatusFailed
		st.Error = fmt.Sprintf("%d step(s) failed, nothing committed", failures)
		st.Output.Summary = st.Error
	case failures > 0 || skipped > 0:
		st.Status = run.StatusPartial
		st.Output.Summary = fmt.Sprintf("partial: %d committed, %d failed, %d skipped", committed, failures, skipped)
	default:
		st.Status = run.StatusSucceeded
		st.Output.Summary = fmt.Sprintf("completed: %d step(s) committed", committed)
	}

	em.RunCompleted(ctx, string(st.Status), st.Output.Summary)
}

func (e *Executor) missingCredentials(steps []plan.Step, userID string) []string {
	if e.creds == nil {
		return nil
	}
	seen := map[string]bool{}
	var missing []string
	for _, step := range steps {
		if seen[step.Tool] {
			continue
		}
		seen[step.Tool] = true
		if _, ok := e.creds.Resolve(step.Tool, userID); !ok {
			missing = append(missing, step.Tool)
		}
	}
	sort.Strings(missing)
	return missing
}

func resolveLateArgs(args map[string]any, variables map[string]any) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	resolved, err := placeholder.Resolve(placeholder.Clone(args), variables, nil)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func unansweredQuestions(questions []plan.Question, answers map[string]any) []plan.Question {
	var pending []plan.Question
	for _, q := range questions {
		if !q.Required {
			continue
		}
		if _, ok := answers[q.Key]; !ok {
			pending = append(pending, q)
		}
	}
	return pending
}

func errorCode(err error) string {
	var toolErr *runweaveerrors.ToolError
	if errors.As(err, &toolErr) && toolErr.Code != "" {
		return toolErr.Code
	}
	var phErr *runweaveerrors.PlaceholderUnsupportedError
	if errors.As(err, &phErr) {
		return "unsupported_placeholder"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "execution_error"
}

func buildDiff(steps []plan.Step) string {
	var b strings.Builder
	for _, step := range steps {
		fmt.Fprintf(&b, "+ %s (%s)", step.ID, step.Tool)
		if len(step.DependsOn) > 0 {
			fmt.Fprintf(&b, " after %s", strings.Join(step.DependsOn, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
