// Package uow implements the unit-of-work engine: the identity map, the
// entity lifecycle state machine, scalar change detection, relation loading,
// and the relation processors that keep one-to-many and many-to-many
// associations consistent across a flush cycle.
package uow

import (
	"errors"
	"fmt"

	"loom/internal/meta"
)

// IdentityError reports a missing or unusable primary key at a point where
// one is required: adding an entity to the identity map, or creating or
// looking up a link entity whose sides are not yet inserted. It carries the
// entity and relation context so a misordered flush is diagnosable from the
// message alone.
type IdentityError struct {
	Entity   string
	Property string
	Kind     meta.RelationKind // zero when not relation-scoped
	Message  string
}

func (e *IdentityError) Error() string {
	switch {
	case e.Property != "" && e.Kind != 0:
		return fmt.Sprintf("identity %s.%s (%s): %s", e.Entity, e.Property, e.Kind, e.Message)
	case e.Property != "":
		return fmt.Sprintf("identity %s.%s: %s", e.Entity, e.Property, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("identity %s: %s", e.Entity, e.Message)
	default:
		return "identity: " + e.Message
	}
}

// IsIdentityError reports whether err is or wraps an IdentityError.
func IsIdentityError(err error) bool {
	var ie *IdentityError
	return errors.As(err, &ie)
}
