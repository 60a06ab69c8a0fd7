package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runweave/runweave/internal/plan"
)

func step(id string, deps ...string) plan.Step {
	return plan.Step{ID: id, Tool: "noop", DependsOn: deps}
}

func TestBuildDAGLevels(t *testing.T) {
	t.Parallel()

	graph, err := BuildDAG([]plan.Step{
		step("fetch"),
		step("draft", "fetch"),
		step("review", "fetch"),
		step("send", "draft", "review"),
	})
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"fetch"},
		{"draft", "review"},
		{"send"},
	}, graph.Levels)
}

func TestBuildDAGIndependentStepsShareALevel(t *testing.T) {
	t.Parallel()

	graph, err := BuildDAG([]plan.Step{step("c"), step("a"), step("b")})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a", "b", "c"}}, graph.Levels)
}

func TestBuildDAGDetectsCycle(t *testing.T) {
	t.Parallel()

	_, err := BuildDAG([]plan.Step{
		step("a", "b"),
		step("b", "a"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestBuildDAGRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	_, err := BuildDAG([]plan.Step{step("a"), step("a")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestBuildDAGIgnoresEdgesOutsideTheSet(t *testing.T) {
	t.Parallel()

	// Dependencies on steps that were dropped or expanded away are the
	// caller's business; the graph treats the referencing step as a root.
	graph, err := BuildDAG([]plan.Step{
		step("notify", "vanished-parent"),
		step("collect"),
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"collect", "notify"}}, graph.Levels)
}
