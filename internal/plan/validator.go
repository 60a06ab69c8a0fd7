package plan

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	stepIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

	selectTypes = map[QuestionType]struct{}{
		QuestionSelect:      {},
		QuestionMultiSelect: {},
	}
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// Validate performs schema and cross-field validation on a plan.
func Validate(p *Plan) error {
	if p == nil {
		return runweaveerrors.NewValidationError("plan", "plan is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(p); err != nil {
		return convertValidationError(err)
	}

	stepIndex := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if _, exists := stepIndex[step.ID]; exists {
			return runweaveerrors.NewValidationError(fieldForStep(i, "id"), fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}
		stepIndex[step.ID] = i

		if step.ExpandKey != "" && step.ExpandOn == "" {
			return runweaveerrors.NewValidationError(fieldForStep(i, "expand_key"), "expand_key requires expand_on", nil)
		}
	}

	for i, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return runweaveerrors.NewValidationError(fieldForStep(i, "depends_on"), fmt.Sprintf("step %q depends on itself", step.ID), nil)
			}
			if _, ok := stepIndex[dep]; !ok {
				return runweaveerrors.NewValidationError(fieldForStep(i, "depends_on"), fmt.Sprintf("unknown dependency %q", dep), nil)
			}
		}
	}

	if cycle := findCycle(p.Steps); len(cycle) > 0 {
		return runweaveerrors.NewValidationError("steps", fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")), nil)
	}

	questionKeys := make(map[string]struct{}, len(p.Questions))
	for i, q := range p.Questions {
		if _, exists := questionKeys[q.Key]; exists {
			return runweaveerrors.NewValidationError(fieldForQuestion(i, "key"), fmt.Sprintf("duplicate question key %q", q.Key), nil)
		}
		questionKeys[q.Key] = struct{}{}

		if _, needsOptions := selectTypes[q.Type]; needsOptions && len(q.Options) == 0 {
			return runweaveerrors.NewValidationError(fieldForQuestion(i, "options"), fmt.Sprintf("question %q of type %s requires options", q.Key, q.Type), nil)
		}
		if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
			return runweaveerrors.NewValidationError(fieldForQuestion(i, "min"), fmt.Sprintf("question %q has min greater than max", q.Key), nil)
		}
	}

	return nil
}

// findCycle walks the dependency edges and returns the ids participating in
// the first cycle found, or nil when the graph is acyclic.
func findCycle(steps []Step) []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	index := StepMap(steps)
	state := make(map[string]int, len(steps))

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			start := 0
			for i, frame := range stack {
				if frame == id {
					start = i
					break
				}
			}
			cycle = append(append([]string(nil), stack[start:]...), id)
			return true
		case done:
			return false
		}

		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range index[id].DependsOn {
			if visit(dep) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	ids := make([]string, 0, len(steps))
	for _, step := range steps {
		ids = append(ids, step.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

func convertValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return runweaveerrors.NewValidationError(first.Namespace(), fmt.Sprintf("failed %q constraint", first.Tag()), err)
	}

	return runweaveerrors.NewValidationError("plan", err.Error(), err)
}

func fieldForStep(i int, field string) string {
	return fmt.Sprintf("steps[%d].%s", i, field)
}

func fieldForQuestion(i int, field string) string {
	return fmt.Sprintf("questions[%d].%s", i, field)
}
