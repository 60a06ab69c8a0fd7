package plan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

const validPlanDoc = `
summary: send follow-ups
variables:
  recipients:
    - a@x.com
    - b@x.com
steps:
  - id: draft
    tool: email.draft
    args:
      subject: "Follow up"
    save_as: draft
  - id: send
    tool: email.send
    risk: high
    depends_on: [draft]
    expand_on: "$var.recipients"
    expand_key: "$each"
    args:
      to: "$each.address"
      body: "Hi $each.name,"
questions:
  - key: dueDate
    prompt: "When is this due?"
    type: date
`

func TestParseValidPlan(t *testing.T) {
	t.Parallel()

	p, err := Parse("plan.yaml", []byte(validPlanDoc))
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	require.Equal(t, "email.send", p.Steps[1].Tool)
	require.Equal(t, RiskHigh, p.Steps[1].Risk)
	require.Equal(t, "$var.recipients", p.Steps[1].ExpandOn)
	require.Equal(t, []string{"draft"}, p.Steps[1].DependsOn)
}

func TestQuestionRequiredDefaultsTrue(t *testing.T) {
	t.Parallel()

	p, err := Parse("plan.yaml", []byte(validPlanDoc))
	require.NoError(t, err)
	require.Len(t, p.Questions, 1)
	require.True(t, p.Questions[0].Required)
}

func TestQuestionRequiredExplicitFalse(t *testing.T) {
	t.Parallel()

	doc := `
steps:
  - id: a
    tool: noop
questions:
  - key: note
    prompt: "Anything else?"
    type: text
    required: false
`
	p, err := Parse("plan.yaml", []byte(doc))
	require.NoError(t, err)
	require.False(t, p.Questions[0].Required)
}

func TestQuestionRequiredDefaultsTrueFromJSON(t *testing.T) {
	t.Parallel()

	doc := `{
		"steps": [{"id": "send", "tool": "email.send"}],
		"questions": [
			{"key": "dueDate", "prompt": "Due when?", "type": "date"},
			{"key": "note", "prompt": "Anything else?", "type": "text", "required": false}
		]
	}`

	var p Plan
	require.NoError(t, json.Unmarshal([]byte(doc), &p))
	require.Len(t, p.Questions, 2)
	require.True(t, p.Questions[0].Required)
	require.False(t, p.Questions[1].Required)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := Parse("plan.yaml", []byte("steps:\n  - id: a\n   tool: broken"))
	require.Error(t, err)

	var parseErr *runweaveerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	t.Parallel()

	doc := `
steps:
  - id: a
    tool: noop
  - id: a
    tool: noop
`
	_, err := Parse("plan.yaml", []byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate step id")
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	doc := `
steps:
  - id: a
    tool: noop
    depends_on: [ghost]
`
	_, err := Parse("plan.yaml", []byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown dependency")
}

func TestValidateDetectsCycle(t *testing.T) {
	t.Parallel()

	doc := `
steps:
  - id: a
    tool: noop
    depends_on: [c]
  - id: b
    tool: noop
    depends_on: [a]
  - id: c
    tool: noop
    depends_on: [b]
`
	_, err := Parse("plan.yaml", []byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsExpandKeyWithoutExpandOn(t *testing.T) {
	t.Parallel()

	doc := `
steps:
  - id: a
    tool: noop
    expand_key: "$each"
`
	_, err := Parse("plan.yaml", []byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expand_key requires expand_on")
}

func TestValidateRejectsSelectWithoutOptions(t *testing.T) {
	t.Parallel()

	doc := `
steps:
  - id: a
    tool: noop
questions:
  - key: priority
    prompt: "Priority?"
    type: select
`
	_, err := Parse("plan.yaml", []byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires options")
}

func TestValidateRejectsBadStepID(t *testing.T) {
	t.Parallel()

	doc := `
steps:
  - id: "Bad Step!"
    tool: noop
`
	_, err := Parse("plan.yaml", []byte(doc))
	require.Error(t, err)

	var validationErr *runweaveerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestStepMap(t *testing.T) {
	t.Parallel()

	steps := []Step{{ID: "a", Tool: "noop"}, {ID: "b", Tool: "noop"}}
	index := StepMap(steps)
	require.Len(t, index, 2)
	require.Equal(t, "noop", index["a"].Tool)
}
