package meta

import (
	"errors"
	"fmt"
)

// MappingError reports invalid or incomplete entity metadata. Mapping errors
// are configuration mistakes: they abort the operation that first touches
// the offending mapping and are not retryable.
type MappingError struct {
	Entity   string
	Property string
	Kind     RelationKind // zero when the error is not relation-scoped
	Message  string
}

func (e *MappingError) Error() string {
	switch {
	case e.Property != "" && e.Kind != 0:
		return fmt.Sprintf("mapping %s.%s (%s): %s", e.Entity, e.Property, e.Kind, e.Message)
	case e.Property != "":
		return fmt.Sprintf("mapping %s.%s: %s", e.Entity, e.Property, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("mapping %s: %s", e.Entity, e.Message)
	default:
		return "mapping: " + e.Message
	}
}

// IsMappingError reports whether err is or wraps a MappingError.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}
