package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnifiedIdenticalContent(t *testing.T) {
	t.Parallel()

	require.Empty(t, Unified("same\n", "same\n", "a", "b"))
}

func TestUnifiedShowsChanges(t *testing.T) {
	t.Parallel()

	out := Unified("hello\nworld\n", "hello\nthere\n", "before", "after")
	require.Contains(t, out, "--- before")
	require.Contains(t, out, "+++ after")
	require.Contains(t, out, "-")
	require.Contains(t, out, "+")
}

func TestUnifiedTruncatesHugeDiffs(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 5000; i++ {
		b.WriteString("line\n")
	}

	out := Unified("", b.String(), "empty", "big")
	require.Contains(t, out, "truncated")
	require.LessOrEqual(t, len(strings.Split(out, "\n")), maxLines+3)
}
