package ir

// unknownType is the marker for values that cannot be known until a
// referenced resource has been applied.
type unknownType struct{}

func (unknownType) String() string { return "(known after apply)" }

// Unknown is the placeholder stored in desired argument maps wherever a
// reference points at a resource whose new value has not been produced
// yet.
var Unknown any = unknownType{}

// IsUnknown reports whether v is the unknown marker itself.
func IsUnknown(v any) bool {
	_, ok := v.(unknownType)
	return ok
}

// ContainsUnknown reports whether v or any nested element is unknown.
func ContainsUnknown(v any) bool {
	switch val := v.(type) {
	case unknownType:
		return true
	case map[string]any:
		for _, e := range val {
			if ContainsUnknown(e) {
				return true
			}
		}
	case []any:
		for _, e := range val {
			if ContainsUnknown(e) {
				return true
			}
		}
	}
	return false
}

// StripUnknown returns a copy of args with unknown-valued entries
// removed, for provider-side validation before any value exists.
func StripUnknown(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if ContainsUnknown(v) {
			continue
		}
		out[k] = v
	}
	return out
}
