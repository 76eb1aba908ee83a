package workflow

import (
	"fmt"
	"strings"
)

// NotAllowedError means the role gate denies the action in the current state.
type NotAllowedError struct {
	State  State
	Role   Role
	Action Action
}

func (e NotAllowedError) Error() string {
	return fmt.Sprintf("role %s may not %s a permit in state %s", e.Role, e.Action, e.State)
}

// FieldError names one unmet payload condition.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationErrors collects every unmet condition of a transition contract.
// It is only returned non-empty, and always before any mutation.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError means the permit's crew is double-booked against another
// active permit in an overlapping time window.
type ConflictError struct {
	PermitID string
	Member   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("crew member %s already on active permit %s in an overlapping window", e.Member, e.PermitID)
}

// StaleStateError is returned by the record store when an optimistic write
// loses; the caller refetches and retries.
type StaleStateError struct {
	PermitID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("permit %s changed underneath: expected version %d, found %d", e.PermitID, e.ExpectedVersion, e.ActualVersion)
}
