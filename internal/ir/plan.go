package ir

import "time"

// Action is the planned operation for one resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionNoop    Action = "noop"
)

// Symbol returns the one-character plan rendering prefix.
func (a Action) Symbol() string {
	switch a {
	case ActionCreate:
		return "+"
	case ActionUpdate:
		return "~"
	case ActionReplace:
		return "-/+"
	case ActionDelete:
		return "-"
	default:
		return " "
	}
}

// Change is one planned action attached to one resource.
type Change struct {
	Addr     Identity
	Action   Action
	Provider string

	// Desired arguments with references resolved; values may be the
	// Unknown marker when a referenced resource is itself changing.
	Desired map[string]any
	Prior   *Record

	// ReplacePaths lists the arguments whose change forces replacement.
	ReplacePaths []string

	// Replacing marks the two halves of a create-before-destroy
	// replacement: the create that produces the successor and the
	// deferred delete of the original. DeposedID carries the original
	// provider-assigned id into the deferred delete.
	Replacing bool
	DeposedID string

	Diff map[string]*AttrDiff
}

// AttrDiff is a single attribute-level difference.
type AttrDiff struct {
	Before            any
	After             any
	ForcesReplacement bool
	Action            Action
}

// Summary counts planned actions by kind.
type Summary struct {
	Create  int
	Update  int
	Replace int
	Delete  int
	NoOp    int
}

// Empty reports whether the plan proposes no work.
func (s Summary) Empty() bool {
	return s.Create+s.Update+s.Replace+s.Delete == 0
}

// Plan is the ordered set of actions needed to reconcile desired
// against actual state. Changes appear in execution order: creates and
// updates in dependency order, destroys of removed resources in
// reverse dependency order, and deferred create-before-destroy
// deletions last.
type Plan struct {
	CreatedAt time.Time
	Changes   []*Change
	Summary   Summary
	Outputs   map[string]any
}
