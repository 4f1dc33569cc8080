package compiler

import (
	"fmt"
	"strings"

	"loom/internal/meta"
)

// Validation error codes (E100-E199)
const (
	// Entity-level errors (E100-E109)
	ErrDuplicateEntity = "E100" // entity defined twice
	ErrEmptyTable      = "E101" // table name missing
	ErrDuplicateName   = "E102" // property/relation name collision
	ErrDuplicateColumn = "E103" // two members map the same column
	ErrBadIDMapping    = "E104" // id generator and key type disagree

	// Relation errors (E110-E119)
	ErrUnknownTarget     = "E110" // relation target not defined
	ErrMissingJoinColumn = "E111" // owning single reference without joinColumn
	ErrMissingMappedBy   = "E112" // oneToMany without mappedBy
	ErrBadMappedBy       = "E113" // mappedBy does not name an owning back-reference
	ErrBadLink           = "E114" // link mapping missing or incomplete
	ErrBadLinkEntity     = "E115" // link entity unresolvable or missing join properties
)

// ValidationError represents a mapping validation error.
type ValidationError struct {
	Entity  string `json:"entity,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Entity, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate cross-checks a set of compiled entity definitions. It returns all
// errors found rather than failing fast, so one validate run reports every
// mapping defect. A nil result means the definitions can be registered.
func Validate(defs []*meta.Definition) []ValidationError {
	var errs []ValidationError

	byName := make(map[string]*meta.Definition, len(defs))
	for _, def := range defs {
		if _, dup := byName[def.Name]; dup {
			errs = append(errs, ValidationError{
				Entity:  def.Name,
				Field:   "entity",
				Message: fmt.Sprintf("entity %q defined twice", def.Name),
				Code:    ErrDuplicateEntity,
			})
			continue
		}
		byName[def.Name] = def
	}

	for _, def := range defs {
		errs = append(errs, validateEntity(def, byName)...)
	}
	return errs
}

// validateEntity checks one definition's local shape and its references into
// the rest of the set.
func validateEntity(def *meta.Definition, byName map[string]*meta.Definition) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(def.Table) == "" {
		errs = append(errs, ValidationError{
			Entity:  def.Name,
			Field:   "table",
			Message: "table name is required and must be non-empty",
			Code:    ErrEmptyTable,
		})
	}

	names := make(map[string]bool)
	columns := make(map[string]bool)
	for _, prop := range def.Properties {
		if names[prop.Name] {
			errs = append(errs, ValidationError{
				Entity:  def.Name,
				Field:   "property." + prop.Name,
				Message: fmt.Sprintf("duplicate member name %q", prop.Name),
				Code:    ErrDuplicateName,
			})
		}
		names[prop.Name] = true
		if columns[prop.Column] {
			errs = append(errs, ValidationError{
				Entity:  def.Name,
				Field:   "property." + prop.Name,
				Message: fmt.Sprintf("column %q mapped twice", prop.Column),
				Code:    ErrDuplicateColumn,
			})
		}
		columns[prop.Column] = true
	}

	errs = append(errs, validateID(def)...)

	for i := range def.Relations {
		rel := &def.Relations[i]
		if names[rel.Name] {
			errs = append(errs, ValidationError{
				Entity:  def.Name,
				Field:   "relation." + rel.Name,
				Message: fmt.Sprintf("duplicate member name %q", rel.Name),
				Code:    ErrDuplicateName,
			})
		}
		names[rel.Name] = true

		target, known := byName[rel.Target]
		if !known {
			errs = append(errs, ValidationError{
				Entity:  def.Name,
				Field:   "relation." + rel.Name,
				Message: fmt.Sprintf("%s target %q is not defined", rel.Kind, rel.Target),
				Code:    ErrUnknownTarget,
			})
		}

		switch rel.Kind {
		case meta.ManyToOne, meta.OneToOne:
			if rel.JoinColumn == "" {
				errs = append(errs, ValidationError{
					Entity:  def.Name,
					Field:   "relation." + rel.Name,
					Message: fmt.Sprintf("%s relation requires a joinColumn", rel.Kind),
					Code:    ErrMissingJoinColumn,
				})
				break
			}
			if columns[rel.JoinColumn] {
				errs = append(errs, ValidationError{
					Entity:  def.Name,
					Field:   "relation." + rel.Name,
					Message: fmt.Sprintf("column %q mapped twice", rel.JoinColumn),
					Code:    ErrDuplicateColumn,
				})
			}
			columns[rel.JoinColumn] = true
		case meta.OneToMany:
			errs = append(errs, validateMappedBy(def, rel, target)...)
		case meta.ManyToMany:
			errs = append(errs, validateLink(def, rel, byName)...)
		}
	}

	return errs
}

// validateID checks the id block against the synthesized key property.
func validateID(def *meta.Definition) []ValidationError {
	prop, ok := def.Property(def.ID.Property)
	if !ok {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "id",
			Message: fmt.Sprintf("id property %q is not a mapped property", def.ID.Property),
			Code:    ErrBadIDMapping,
		}}
	}

	var errs []ValidationError
	if prop.Type != meta.TypeString && prop.Type != meta.TypeInt {
		errs = append(errs, ValidationError{
			Entity:  def.Name,
			Field:   "id",
			Message: fmt.Sprintf("id property must be string or int, got %s", prop.Type),
			Code:    ErrBadIDMapping,
		})
	}
	switch def.ID.Generator {
	case meta.GeneratorAuto:
		if prop.Type != meta.TypeInt {
			errs = append(errs, ValidationError{
				Entity:  def.Name,
				Field:   "id",
				Message: "auto generator requires an int id",
				Code:    ErrBadIDMapping,
			})
		}
	case meta.GeneratorUUID:
		if prop.Type != meta.TypeString {
			errs = append(errs, ValidationError{
				Entity:  def.Name,
				Field:   "id",
				Message: "uuid generator requires a string id",
				Code:    ErrBadIDMapping,
			})
		}
	}
	return errs
}

// validateMappedBy checks that a oneToMany names an owning back-reference on
// its target: a manyToOne relation pointing back at this entity.
func validateMappedBy(def *meta.Definition, rel *meta.RelationDefinition, target *meta.Definition) []ValidationError {
	if rel.MappedBy == "" {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: "oneToMany relation requires mappedBy naming the owning property on the target",
			Code:    ErrMissingMappedBy,
		}}
	}
	if target == nil {
		return nil // unknown target already reported
	}
	back, ok := target.Relation(rel.MappedBy)
	if !ok {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: fmt.Sprintf("mappedBy %q is not a relation of %s", rel.MappedBy, rel.Target),
			Code:    ErrBadMappedBy,
		}}
	}
	if back.Kind != meta.ManyToOne || back.Target != def.Name {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: fmt.Sprintf("mappedBy %q must be a manyToOne back to %s, got %s to %s", rel.MappedBy, def.Name, back.Kind, back.Target),
			Code:    ErrBadMappedBy,
		}}
	}
	return nil
}

// validateLink checks that a manyToMany link resolves to a defined link
// entity carrying owning references for both join properties.
func validateLink(def *meta.Definition, rel *meta.RelationDefinition, byName map[string]*meta.Definition) []ValidationError {
	if rel.Link == nil || rel.Link.Entity == "" || rel.Link.JoinProperty == "" || rel.Link.InverseJoinProperty == "" {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: "manyToMany relation requires a link with entity, joinProperty, and inverseJoinProperty",
			Code:    ErrBadLink,
		}}
	}

	link, ok := byName[rel.Link.Entity]
	if !ok {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: fmt.Sprintf("link entity %q is not defined", rel.Link.Entity),
			Code:    ErrBadLinkEntity,
		}}
	}

	var errs []ValidationError
	errs = append(errs, validateLinkSide(def, rel, link, rel.Link.JoinProperty, def.Name)...)
	errs = append(errs, validateLinkSide(def, rel, link, rel.Link.InverseJoinProperty, rel.Target)...)
	return errs
}

// validateLinkSide checks one of the link entity's two reference properties.
func validateLinkSide(def *meta.Definition, rel *meta.RelationDefinition, link *meta.Definition, property, wantTarget string) []ValidationError {
	side, ok := link.Relation(property)
	if !ok {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: fmt.Sprintf("link entity %s has no relation %q", link.Name, property),
			Code:    ErrBadLinkEntity,
		}}
	}
	if side.Kind != meta.ManyToOne {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: fmt.Sprintf("link property %s.%s must be manyToOne, got %s", link.Name, property, side.Kind),
			Code:    ErrBadLinkEntity,
		}}
	}
	if side.Target != wantTarget {
		return []ValidationError{{
			Entity:  def.Name,
			Field:   "relation." + rel.Name,
			Message: fmt.Sprintf("link property %s.%s must reference %s, got %s", link.Name, property, wantTarget, side.Target),
			Code:    ErrBadLinkEntity,
		}}
	}
	return nil
}
