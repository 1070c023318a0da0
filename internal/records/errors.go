package records

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a run, artifact, rowset or row does not exist.
var ErrNotFound = errors.New("not found")

// ConstraintViolation indicates a value outside an allowed set. It points at an internal
// policy bug rather than bad client input.
type ConstraintViolation struct {
	Field string
	Value string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation: %s=%q is not allowed", e.Field, e.Value)
}

// NotFoundError wraps ErrNotFound with the kind of entity and its identifier.
func NotFoundError(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}
