package placeholder

// Clone returns a structural deep copy of an argument tree. Maps and slices
// are copied recursively; every other value (strings, numbers, time.Time,
// provider handles) is carried over as-is rather than being round-tripped
// through a serializer, which would silently degrade non-plain values.
func Clone(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, item := range value {
			out[key] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// CloneArgs clones a step argument map, returning nil for nil input.
func CloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return Clone(args).(map[string]any)
}
