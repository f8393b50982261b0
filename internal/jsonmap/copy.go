package jsonmap

// DeepCopy returns a copy of a decoded JSON value sharing no maps or
// slices with v.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = DeepCopy(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// CopyObject is DeepCopy for objects.
func CopyObject(m Object) Object {
	if m == nil {
		return nil
	}
	return DeepCopy(m).(map[string]any)
}
