package ir

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed configuration document. It aborts
// planning before any mutation occurs.
type ParseError struct {
	Filename string
	Detail   string
}

func (e *ParseError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("parse error: %s", e.Detail)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Filename, e.Detail)
}

// ReferenceError reports a reference expression pointing at a
// nonexistent resource, data source, or variable.
type ReferenceError struct {
	Addr       Identity
	Expression string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: reference to undeclared object %q", e.Addr, e.Expression)
}

// CycleError reports an unbroken dependency cycle, listing the
// participating nodes.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between: %s", strings.Join(e.Nodes, ", "))
}

// ValidationError reports resource arguments rejected by provider-side
// validation before any API call was made.
type ValidationError struct {
	Addr   Identity
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid arguments: %s", e.Addr, e.Detail)
}

// ProviderError reports a failed provider API call. It halts only the
// affected branch of the dependency graph during apply.
type ProviderError struct {
	Addr   Identity
	Action Action
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s failed: %s", e.Addr, e.Action, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StateConflictError reports that a state record changed between read
// and write, i.e. a concurrent-apply race detected by the store's
// compare-and-swap serial.
type StateConflictError struct {
	Addr           Identity
	ExpectedSerial int64
	ActualSerial   int64
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: state record changed concurrently (serial %d, expected %d)",
		e.Addr, e.ActualSerial, e.ExpectedSerial)
}
