package ir

// StateVersion is the schema version written into every persisted
// state document and record.
const StateVersion = 1

// Record is the persisted last-known state of one resource. Records are
// owned exclusively by the state store: the plan engine reads them, the
// apply executor is the only writer, and only after a provider call has
// confirmed success.
type Record struct {
	Identity      Identity       `json:"identity"`
	Provider      string         `json:"provider"`
	ID            string         `json:"id"`
	Args          map[string]any `json:"args"`
	Attrs         map[string]any `json:"attrs"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	SchemaVersion int            `json:"schema_version"`

	// Serial is the compare-and-swap token: a Put must carry the
	// serial it read, and the store rejects stale writes.
	Serial int64 `json:"serial"`
}

// Attr returns an exported attribute, falling back to the last-applied
// argument of the same name.
func (r *Record) Attr(name string) (any, bool) {
	if v, ok := r.Attrs[name]; ok {
		return v, true
	}
	v, ok := r.Args[name]
	return v, ok
}
