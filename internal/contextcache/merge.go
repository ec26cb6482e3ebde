package contextcache

// DeepMerge returns base overlaid with overlay. Nested objects merge key by
// key; arrays and scalars from overlay replace those in base. Keys present on
// only one side are kept. Neither input is modified.
func DeepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for key, value := range base {
		out[key] = cloneValue(value)
	}
	for key, value := range overlay {
		incoming, incomingIsMap := value.(map[string]any)
		current, currentIsMap := out[key].(map[string]any)
		if incomingIsMap && currentIsMap {
			out[key] = DeepMerge(current, incoming)
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = cloneValue(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = cloneValue(value)
		}
		return out
	default:
		return v
	}
}
