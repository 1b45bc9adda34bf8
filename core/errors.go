package core

import (
	"fmt"
	"time"
)

// OrderingError reports a turn rejected by the session's turn-taking policy.
type OrderingError struct {
	Author string // Author of the rejected turn
	Role   Role   // Role of the rejected turn
	Reason string // Human-readable policy violation
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("ordering violation by %q (%s): %s", e.Author, e.Role, e.Reason)
}

// DuplicateNameError reports a registration attempt with an already-taken name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("name %q is already registered", e.Name)
}

// NotFoundError reports a missing entity (agent, operation, snapshot, ...).
// Kind categorizes the lookup so callers can surface it without reinterpretation.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// PermissionError reports an agent invoking a backend operation outside its
// descriptor's permitted set.
type PermissionError struct {
	Agent     string
	Operation string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("agent %q is not permitted to invoke operation %q", e.Agent, e.Operation)
}

// TimeoutError reports a backend invocation that did not complete within its
// deadline. The provider invocation is abandoned; no partial result is kept.
type TimeoutError struct {
	Operation string
	Provider  string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q on provider %q timed out after %s", e.Operation, e.Provider, e.Timeout)
}

// BackendError wraps a failure reported by an external provider. Diagnostic
// carries the provider's message verbatim so it can be displayed unchanged.
type BackendError struct {
	Operation  string
	Provider   string
	Diagnostic string
	Err        error // Underlying provider error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("operation %q on provider %q failed: %s", e.Operation, e.Provider, e.Diagnostic)
}

// Unwrap exposes the underlying provider error for errors.Is / errors.As.
func (e *BackendError) Unwrap() error { return e.Err }

// NoCapableAgentError reports a delegation request for which no registered
// descriptor scored above the configured floor threshold.
type NoCapableAgentError struct {
	Query     string
	Threshold float64
}

func (e *NoCapableAgentError) Error() string {
	return fmt.Sprintf("no registered agent matches %q above threshold %.2f", e.Query, e.Threshold)
}

// AllDelegatesFailedError reports that every invoked delegate failed, keyed by
// agent name. It is returned instead of a partial aggregate.
type AllDelegatesFailedError struct {
	Query    string
	Failures map[string]error
}

func (e *AllDelegatesFailedError) Error() string {
	return fmt.Sprintf("all %d delegates failed for %q", len(e.Failures), e.Query)
}

// SelectionDeadlockError is session-fatal: the next-speaker selection produced
// neither a candidate nor a STOP decision.
type SelectionDeadlockError struct {
	Stage  string
	Reason string
}

func (e *SelectionDeadlockError) Error() string {
	return fmt.Sprintf("speaker selection deadlock in stage %q: %s", e.Stage, e.Reason)
}

// StageNotCompleteError reports an unforced stage advance whose completion
// predicate is unmet.
type StageNotCompleteError struct {
	Stage  string
	Reason string
}

func (e *StageNotCompleteError) Error() string {
	return fmt.Sprintf("stage %q is not complete: %s", e.Stage, e.Reason)
}

// CorruptSnapshotError is session-fatal: a persisted snapshot cannot be
// restored into a consistent session state.
type CorruptSnapshotError struct {
	Reason string
}

func (e *CorruptSnapshotError) Error() string {
	return fmt.Sprintf("corrupt snapshot: %s", e.Reason)
}
