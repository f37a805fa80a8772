package research

import (
	"fmt"

	"github.com/prismnews/research-engine/internal/model"
)

// ValidationError reports malformed caller input. Always recoverable by
// retrying with corrected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// ForbiddenError reports that the caller does not own the referenced
// request. Surfaced distinctly from NotFound so clients can tell the two
// apart; deployments that prefer not to leak existence can map it to a
// 404 at the transport layer.
type ForbiddenError struct {
	Entity string
	ID     string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s %s is owned by another user", e.Entity, e.ID)
}

// InvalidTransitionError reports an operation that is not allowed in the
// request's current state, e.g. starting research twice.
type InvalidTransitionError struct {
	ID     string
	Status model.RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %s cannot be started from status %q", e.ID, e.Status)
}
