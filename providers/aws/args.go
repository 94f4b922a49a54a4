package aws

// Argument maps arrive as plain Go values decoded from configuration:
// strings, bools, float64 numbers, []any, and map[string]any. These
// helpers narrow them to what the SDK inputs need.

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func int32Arg(args map[string]any, key string) (int32, bool) {
	switch v := args[key].(type) {
	case float64:
		return int32(v), true
	case int:
		return int32(v), true
	case int64:
		return int32(v), true
	default:
		return 0, false
	}
}

func strSliceArg(args map[string]any, key string) []string {
	list, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strMapArg(args map[string]any, key string) map[string]string {
	m, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// blockList returns the nested block objects for a block type, e.g. the
// ingress rules of a security group.
func blockList(args map[string]any, key string) []map[string]any {
	list, ok := args[key].([]any)
	if !ok {
		if single, ok := args[key].(map[string]any); ok {
			return []map[string]any{single}
		}
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
