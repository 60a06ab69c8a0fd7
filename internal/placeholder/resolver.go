// Package placeholder resolves $var, $each, $index and $key references
// inside step argument trees.
//
// Two substitution modes apply. A string that is exactly one placeholder
// resolves to the referenced value with its original type preserved.
// Placeholders embedded inside a larger string are substituted textually,
// with missing values replaced by the empty string.
package placeholder

import (
	"fmt"
	"regexp"
	"strings"

	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// Each carries the per-item context active during a fan-out expansion.
type Each struct {
	Item  any
	Index int
	Key   string
}

var (
	varExactPattern  = regexp.MustCompile(`^\$var\.([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*)$`)
	eachExactPattern = regexp.MustCompile(`^\$each(?:\.([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*))?$`)
	embeddedPattern  = regexp.MustCompile(`\$each\.[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*|\$each\b|\$index\b|\$key\b`)
	stepRefPattern   = regexp.MustCompile(`\$step-\d+\b`)
)

// Resolve walks an argument tree and substitutes placeholder references.
// Variables supplies $var lookups; each, when non-nil, supplies $each, $index
// and $key. Non-string, non-container values pass through unchanged.
//
// References to raw step results ($step-<n>.*) return a
// PlaceholderUnsupportedError: cross-step data flow must use named variables
// bound at commit time.
func Resolve(tree any, variables map[string]any, each *Each) (any, error) {
	switch value := tree.(type) {
	case string:
		return resolveString(value, variables, each)
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, item := range value {
			resolved, err := Resolve(item, variables, each)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			resolved, err := Resolve(item, variables, each)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return tree, nil
	}
}

func resolveString(s string, variables map[string]any, each *Each) (any, error) {
	if IsStepRef(s) {
		return nil, runweaveerrors.NewPlaceholderUnsupportedError(s)
	}

	if match := varExactPattern.FindStringSubmatch(s); match != nil {
		if value, ok := LookupPath(variables, match[1]); ok {
			return value, nil
		}
		// Unknown variable: leave the reference in place so a later pass
		// (after more commits bind variables) can still resolve it.
		return s, nil
	}

	if each != nil {
		if match := eachExactPattern.FindStringSubmatch(s); match != nil {
			return resolveEachPath(match[1], each), nil
		}
		if s == "$index" {
			return each.Index, nil
		}
		if s == "$key" {
			return each.Key, nil
		}
		return substituteEmbedded(s, each), nil
	}

	return s, nil
}

// resolveEachPath resolves a dotted path against the current fan-out item.
// A path ending in "address" tolerates contact-as-string shapes: when the
// item is a plain string, the item itself is the address.
func resolveEachPath(path string, each *Each) any {
	if path == "" {
		return each.Item
	}

	if item, ok := each.Item.(map[string]any); ok {
		if value, found := LookupPath(item, path); found {
			return value
		}
		return nil
	}

	if _, isString := each.Item.(string); isString && lastSegment(path) == "address" {
		return each.Item
	}

	return nil
}

// substituteEmbedded performs textual replacement of $each.*, $index and
// $key occurrences inside a larger string. Missing values become "".
func substituteEmbedded(s string, each *Each) string {
	return embeddedPattern.ReplaceAllStringFunc(s, func(ref string) string {
		switch {
		case ref == "$index":
			return fmt.Sprintf("%d", each.Index)
		case ref == "$key":
			return each.Key
		case ref == "$each":
			return stringify(each.Item)
		default:
			return stringify(resolveEachPath(strings.TrimPrefix(ref, "$each."), each))
		}
	})
}

// IsVarRef reports whether s is exactly one $var.<path> reference.
func IsVarRef(s string) bool {
	return varExactPattern.MatchString(s)
}

// IsStepRef reports whether s contains a $step-<n> result reference. Plain
// prose that happens to mention "$step-" without a step number is not one.
func IsStepRef(s string) bool {
	return stepRefPattern.MatchString(s)
}

// LookupPath traverses nested maps following a dotted path.
func LookupPath(root map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = root
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
