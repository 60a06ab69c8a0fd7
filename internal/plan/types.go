package plan

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Risk classifies a step for approval gating.
type Risk string

const (
	// RiskLow marks steps that execute without approval in every mode.
	RiskLow Risk = "low"
	// RiskHigh marks steps that require approval when the run mode demands it.
	RiskHigh Risk = "high"
)

// Plan is the ordered graph of steps produced by the planner hand-off.
type Plan struct {
	Summary   string         `yaml:"summary,omitempty" json:"summary,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Steps     []Step         `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Questions []Question     `yaml:"questions,omitempty" json:"questions,omitempty" validate:"omitempty,dive"`
}

// Step describes one declarative tool invocation in the plan.
//
// A step carrying ExpandOn is a template: it is replaced by its expansion
// before scheduling and is never executed itself. Expanded children never
// carry ExpandOn or ExpandKey.
type Step struct {
	ID             string         `yaml:"id" json:"id" validate:"required,step_id"`
	Tool           string         `yaml:"tool" json:"tool" validate:"required"`
	Args           map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Risk           Risk           `yaml:"risk,omitempty" json:"risk,omitempty" validate:"omitempty,oneof=low high"`
	DependsOn      []string       `yaml:"depends_on,omitempty" json:"dependsOn,omitempty"`
	IdempotencyKey string         `yaml:"idempotency_key,omitempty" json:"idempotencyKey,omitempty"`
	CostEstimate   float64        `yaml:"cost_estimate,omitempty" json:"costEstimate,omitempty" validate:"omitempty,min=0"`
	ExpandOn       string         `yaml:"expand_on,omitempty" json:"expandOn,omitempty"`
	ExpandKey      string         `yaml:"expand_key,omitempty" json:"expandKey,omitempty"`
	SaveAs         string         `yaml:"save_as,omitempty" json:"saveAs,omitempty"`
}

// QuestionType enumerates the supported missing-information question kinds.
type QuestionType string

const (
	QuestionText        QuestionType = "text"
	QuestionTextarea    QuestionType = "textarea"
	QuestionEmail       QuestionType = "email"
	QuestionEmailList   QuestionType = "email_list"
	QuestionDateTime    QuestionType = "datetime"
	QuestionDate        QuestionType = "date"
	QuestionTime        QuestionType = "time"
	QuestionNumber      QuestionType = "number"
	QuestionSelect      QuestionType = "select"
	QuestionMultiSelect QuestionType = "multiselect"
	QuestionBoolean     QuestionType = "boolean"
)

// Question is a typed request for missing information raised by the planner.
type Question struct {
	Key      string       `yaml:"key" json:"key" validate:"required"`
	Prompt   string       `yaml:"prompt" json:"prompt" validate:"required"`
	Type     QuestionType `yaml:"type" json:"type" validate:"required,oneof=text textarea email email_list datetime date time number select multiselect boolean"`
	Options  []string     `yaml:"options,omitempty" json:"options,omitempty"`
	Required bool         `yaml:"required,omitempty" json:"required"`
	Min      *float64     `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64     `yaml:"max,omitempty" json:"max,omitempty"`
	Format   string       `yaml:"format,omitempty" json:"format,omitempty"`
}

// UnmarshalYAML decodes a question, defaulting Required to true when omitted.
func (q *Question) UnmarshalYAML(value *yaml.Node) error {
	type rawQuestion Question
	var temp rawQuestion
	temp.Required = true
	if err := value.Decode(&temp); err != nil {
		return err
	}
	if !hasYAMLKey(value, "required") {
		temp.Required = true
	}
	*q = Question(temp)
	return nil
}

// UnmarshalJSON decodes a question, defaulting Required to true when omitted.
// Plans arrive as JSON over the HTTP surface, so the default must hold on
// both encodings.
func (q *Question) UnmarshalJSON(data []byte) error {
	type rawQuestion Question
	temp := rawQuestion{Required: true}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	*q = Question(temp)
	return nil
}

// StepMap builds a lookup table for steps by ID.
func StepMap(steps []Step) map[string]Step {
	out := make(map[string]Step, len(steps))
	for _, step := range steps {
		out[step.ID] = step
	}
	return out
}

func hasYAMLKey(node *yaml.Node, key string) bool {
	if node == nil || node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
