package placeholder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

func TestResolveVarPreservesType(t *testing.T) {
	t.Parallel()

	variables := map[string]any{
		"recipients": []any{"a@x.com", "b@x.com"},
		"count":      3,
		"meeting":    map[string]any{"title": "standup"},
	}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"array", "$var.recipients", []any{"a@x.com", "b@x.com"}},
		{"number", "$var.count", 3},
		{"object", "$var.meeting", map[string]any{"title": "standup"}},
		{"nested path", "$var.meeting.title", "standup"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(tc.in, variables, nil)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveUnknownVarLeftInPlace(t *testing.T) {
	t.Parallel()

	got, err := Resolve("$var.missing", map[string]any{}, nil)
	require.NoError(t, err)
	require.Equal(t, "$var.missing", got)
}

func TestResolveRecursesThroughContainers(t *testing.T) {
	t.Parallel()

	variables := map[string]any{"subject": "Q3 review"}
	tree := map[string]any{
		"email": map[string]any{
			"subject": "$var.subject",
			"flags":   []any{"$var.subject", 7, true},
		},
	}

	got, err := Resolve(tree, variables, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"email": map[string]any{
			"subject": "Q3 review",
			"flags":   []any{"Q3 review", 7, true},
		},
	}, got)
}

func TestResolveEachAgainstItem(t *testing.T) {
	t.Parallel()

	each := &Each{
		Item:  map[string]any{"name": "Ada", "address": "ada@x.com"},
		Index: 1,
		Key:   "ada@x.com",
	}

	got, err := Resolve(map[string]any{
		"to":    "$each.address",
		"index": "$index",
		"key":   "$key",
	}, nil, each)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"to":    "ada@x.com",
		"index": 1,
		"key":   "ada@x.com",
	}, got)
}

func TestResolveEachAddressFallbackForStringItem(t *testing.T) {
	t.Parallel()

	each := &Each{Item: "plain@x.com"}

	got, err := Resolve("$each.address", nil, each)
	require.NoError(t, err)
	require.Equal(t, "plain@x.com", got)
}

func TestResolveEachWithoutPathReturnsItem(t *testing.T) {
	t.Parallel()

	each := &Each{Item: map[string]any{"id": "c1"}}

	got, err := Resolve("$each", nil, each)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": "c1"}, got)
}

func TestEmbeddedSubstitution(t *testing.T) {
	t.Parallel()

	each := &Each{
		Item:  map[string]any{"name": "Ada"},
		Index: 2,
		Key:   "ada@x.com",
	}

	got, err := Resolve("Hi $each.name, you are #$index ($key)", nil, each)
	require.NoError(t, err)
	require.Equal(t, "Hi Ada, you are #2 (ada@x.com)", got)
}

func TestEmbeddedMissingValueBecomesEmptyString(t *testing.T) {
	t.Parallel()

	each := &Each{Item: map[string]any{"name": "Ada"}}

	got, err := Resolve("Phone: $each.phone.", nil, each)
	require.NoError(t, err)
	require.Equal(t, "Phone: .", got)
}

func TestStepReferenceIsUnsupported(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"$step-1.result.id", "see $step-2.output"} {
		_, err := Resolve(expr, nil, &Each{Item: "x"})
		require.Error(t, err)

		var phErr *runweaveerrors.PlaceholderUnsupportedError
		require.ErrorAs(t, err, &phErr)
	}
}

func TestStepMentionInProseIsNotAReference(t *testing.T) {
	t.Parallel()

	// Only numbered result references are rejected; a literal "$step-"
	// inside ordinary text passes through untouched.
	for _, s := range []string{
		"see the $step-by-step guide",
		"a $step- dangling mention",
	} {
		got, err := Resolve(s, nil, nil)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	require.True(t, IsStepRef("$step-12.result"))
	require.False(t, IsStepRef("$step-by-step"))
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	variables := map[string]any{"to": "ada@x.com"}
	tree := map[string]any{"to": "$var.to", "n": 4}

	once, err := Resolve(tree, variables, nil)
	require.NoError(t, err)
	twice, err := Resolve(once, variables, nil)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestResolveNonStringScalarsPassThrough(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	got, err := Resolve(map[string]any{"at": when, "n": 1.5, "ok": true}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"at": when, "n": 1.5, "ok": true}, got)
}

func TestCloneIsDeepForContainers(t *testing.T) {
	t.Parallel()

	original := map[string]any{
		"list": []any{map[string]any{"k": "v"}},
	}
	cloned := CloneArgs(original)

	cloned["list"].([]any)[0].(map[string]any)["k"] = "changed"
	require.Equal(t, "v", original["list"].([]any)[0].(map[string]any)["k"])
}

func TestClonePreservesTimeValues(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	cloned := CloneArgs(map[string]any{"at": when})
	require.Equal(t, when, cloned["at"])
}

func TestLookupPath(t *testing.T) {
	t.Parallel()

	root := map[string]any{"a": map[string]any{"b": 42}}

	value, ok := LookupPath(root, "a.b")
	require.True(t, ok)
	require.Equal(t, 42, value)

	_, ok = LookupPath(root, "a.b.c")
	require.False(t, ok)

	_, ok = LookupPath(root, "missing")
	require.False(t, ok)
}
