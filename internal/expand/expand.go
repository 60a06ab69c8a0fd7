// Package expand turns declarative fan-out steps into concrete child steps,
// one per array element.
package expand

import (
	"fmt"
	"strings"

	"github.com/runweave/runweave/internal/placeholder"
	"github.com/runweave/runweave/internal/plan"
	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// Expand resolves a step's placeholders and, when the step declares an
// expansion source, fans it out into one concrete child per array item.
//
// Steps without ExpandOn resolve against variables only and come back as a
// single-element slice. Steps whose ExpandOn does not resolve to an array
// return an ExpansionError; callers drop the step and let siblings proceed.
func Expand(step plan.Step, variables map[string]any) ([]plan.Step, error) {
	if step.ExpandOn == "" {
		args, err := resolveArgs(step.Args, variables, nil)
		if err != nil {
			return nil, err
		}
		out := step
		out.Args = args
		return []plan.Step{out}, nil
	}

	if placeholder.IsStepRef(step.ExpandOn) {
		return nil, runweaveerrors.NewPlaceholderUnsupportedError(step.ExpandOn)
	}
	if !placeholder.IsVarRef(step.ExpandOn) {
		return nil, runweaveerrors.NewExpansionError(step.ID, step.ExpandOn, nil)
	}

	source, err := placeholder.Resolve(step.ExpandOn, variables, nil)
	if err != nil {
		return nil, err
	}
	items, ok := source.([]any)
	if !ok {
		return nil, runweaveerrors.NewExpansionError(step.ID, step.ExpandOn, nil)
	}

	// Resolve $var references once; per-item passes only deal with $each,
	// $index and $key.
	base, err := resolveArgs(step.Args, variables, nil)
	if err != nil {
		return nil, err
	}

	children := make([]plan.Step, 0, len(items))
	for i, item := range items {
		each := &placeholder.Each{
			Item:  item,
			Index: i,
			Key:   itemKey(step.ExpandKey, item, i),
		}

		args, err := resolveArgs(placeholder.CloneArgs(base), variables, each)
		if err != nil {
			return nil, err
		}

		child := step
		child.ID = fmt.Sprintf("%s-%d", step.ID, i)
		child.Args = args
		child.DependsOn = append([]string(nil), step.DependsOn...)
		child.ExpandOn = ""
		child.ExpandKey = ""
		// Fan-out children produce one result each; a single named binding
		// cannot hold all of them, so the binding stays on no one.
		child.SaveAs = ""
		if step.IdempotencyKey != "" {
			child.IdempotencyKey = fmt.Sprintf("%s-%d", step.IdempotencyKey, i)
		}
		children = append(children, child)
	}

	return children, nil
}

// itemKey computes the stable per-item key used for $key substitutions.
// An ExpandKey of "$each" keys on the item itself; "$each.<path>" keys on
// the value at that path, tolerating contact-as-string shapes.
func itemKey(expandKey string, item any, index int) string {
	switch {
	case expandKey == "":
		return fmt.Sprintf("%d", index)
	case expandKey == "$each":
		return stringifyKey(item)
	case strings.HasPrefix(expandKey, "$each."):
		path := strings.TrimPrefix(expandKey, "$each.")
		if node, ok := item.(map[string]any); ok {
			if value, found := placeholder.LookupPath(node, path); found {
				return stringifyKey(value)
			}
			return ""
		}
		if s, ok := item.(string); ok {
			return s
		}
		return ""
	default:
		return expandKey
	}
}

func stringifyKey(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func resolveArgs(args map[string]any, variables map[string]any, each *placeholder.Each) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	resolved, err := placeholder.Resolve(placeholder.Clone(args), variables, each)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}
