package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"loom/internal/meta"
)

// CompileEntity parses a CUE value into an entity mapping definition.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Order: { ... }`)
//	def, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Order")))
func CompileEntity(v cue.Value) (*meta.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &meta.Definition{}

	// The entity name is the struct label (the last path selector).
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}

	tableVal := v.LookupPath(cue.ParsePath("table"))
	if !tableVal.Exists() {
		return nil, &CompileError{
			Field:   "table",
			Message: "table is required",
			Pos:     v.Pos(),
		}
	}
	table, err := tableVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	def.Table = table

	id, idProp, err := parseID(v)
	if err != nil {
		return nil, err
	}
	def.ID = id
	def.Properties = append(def.Properties, idProp)

	props, err := parseProperties(v)
	if err != nil {
		return nil, err
	}
	def.Properties = append(def.Properties, props...)

	def.Relations, err = parseRelations(v)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// parseID reads the id block and synthesizes the key property. The block
// names the property, its column (defaulting to the property name), and the
// generator. Generated keys fix the property type (auto is int, uuid is
// string); assigned keys declare it explicitly.
func parseID(v cue.Value) (meta.IDMapping, meta.PropertyDefinition, error) {
	var id meta.IDMapping
	var prop meta.PropertyDefinition

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return id, prop, &CompileError{
			Field:   "id",
			Message: "id mapping is required",
			Pos:     v.Pos(),
		}
	}

	propVal := idVal.LookupPath(cue.ParsePath("property"))
	if !propVal.Exists() {
		return id, prop, &CompileError{
			Field:   "id.property",
			Message: "id property name is required",
			Pos:     idVal.Pos(),
		}
	}
	name, err := propVal.String()
	if err != nil {
		return id, prop, formatCUEError(err)
	}
	id.Property = name

	id.Column = name
	if colVal := idVal.LookupPath(cue.ParsePath("column")); colVal.Exists() {
		col, err := colVal.String()
		if err != nil {
			return id, prop, formatCUEError(err)
		}
		id.Column = col
	}

	id.Generator = meta.GeneratorAssigned
	if genVal := idVal.LookupPath(cue.ParsePath("generator")); genVal.Exists() {
		genName, err := genVal.String()
		if err != nil {
			return id, prop, formatCUEError(err)
		}
		gen, err := meta.ParseIDGenerator(genName)
		if err != nil {
			return id, prop, &CompileError{
				Field:   "id.generator",
				Message: err.Error(),
				Pos:     genVal.Pos(),
			}
		}
		id.Generator = gen
	}

	var keyType meta.ColumnType
	switch id.Generator {
	case meta.GeneratorAuto:
		keyType = meta.TypeInt
	case meta.GeneratorUUID:
		keyType = meta.TypeString
	default:
		typeVal := idVal.LookupPath(cue.ParsePath("type"))
		if !typeVal.Exists() {
			return id, prop, &CompileError{
				Field:   "id.type",
				Message: "assigned ids must declare a type (int or string)",
				Pos:     idVal.Pos(),
			}
		}
		typeName, err := typeVal.String()
		if err != nil {
			return id, prop, formatCUEError(err)
		}
		keyType, err = meta.ParseColumnType(typeName)
		if err != nil {
			return id, prop, &CompileError{
				Field:   "id.type",
				Message: err.Error(),
				Pos:     typeVal.Pos(),
			}
		}
	}

	prop = meta.PropertyDefinition{
		Name:   id.Property,
		Column: id.Column,
		Type:   keyType,
		// Generated keys stay unset until flush assigns them.
		Nullable: id.Generator != meta.GeneratorAssigned,
	}
	return id, prop, nil
}

// parseProperties reads the property blocks in declaration order.
func parseProperties(v cue.Value) ([]meta.PropertyDefinition, error) {
	var props []meta.PropertyDefinition

	propsVal := v.LookupPath(cue.ParsePath("property"))
	if !propsVal.Exists() {
		return props, nil
	}

	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		block := iter.Value()

		prop := meta.PropertyDefinition{Name: name, Column: name}

		if colVal := block.LookupPath(cue.ParsePath("column")); colVal.Exists() {
			col, err := colVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			prop.Column = col
		}

		typeVal := block.LookupPath(cue.ParsePath("type"))
		if !typeVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("property.%s.type", name),
				Message: "property type is required",
				Pos:     block.Pos(),
			}
		}
		typeName, err := typeVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		prop.Type, err = meta.ParseColumnType(typeName)
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("property.%s.type", name),
				Message: err.Error(),
				Pos:     typeVal.Pos(),
			}
		}

		if nullVal := block.LookupPath(cue.ParsePath("nullable")); nullVal.Exists() {
			nullable, err := nullVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			prop.Nullable = nullable
		}

		props = append(props, prop)
	}

	return props, nil
}

// parseRelations reads the relation blocks in declaration order.
func parseRelations(v cue.Value) ([]meta.RelationDefinition, error) {
	var rels []meta.RelationDefinition

	relsVal := v.LookupPath(cue.ParsePath("relation"))
	if !relsVal.Exists() {
		return rels, nil
	}

	iter, err := relsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		block := iter.Value()

		rel := meta.RelationDefinition{Name: name}

		kindVal := block.LookupPath(cue.ParsePath("kind"))
		if !kindVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relation.%s.kind", name),
				Message: "relation kind is required",
				Pos:     block.Pos(),
			}
		}
		kindName, err := kindVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rel.Kind, err = meta.ParseRelationKind(kindName)
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relation.%s.kind", name),
				Message: err.Error(),
				Pos:     kindVal.Pos(),
			}
		}

		targetVal := block.LookupPath(cue.ParsePath("target"))
		if !targetVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relation.%s.target", name),
				Message: "relation target is required",
				Pos:     block.Pos(),
			}
		}
		rel.Target, err = targetVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		if joinVal := block.LookupPath(cue.ParsePath("joinColumn")); joinVal.Exists() {
			rel.JoinColumn, err = joinVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}

		if mappedVal := block.LookupPath(cue.ParsePath("mappedBy")); mappedVal.Exists() {
			rel.MappedBy, err = mappedVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}

		// Owning single references default to nullable: an absent target
		// resolves to a NULL foreign key rather than a failed load.
		rel.Nullable = rel.Kind == meta.ManyToOne || rel.Kind == meta.OneToOne
		if nullVal := block.LookupPath(cue.ParsePath("nullable")); nullVal.Exists() {
			rel.Nullable, err = nullVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}

		if linkVal := block.LookupPath(cue.ParsePath("link")); linkVal.Exists() {
			link, err := parseLink(name, linkVal)
			if err != nil {
				return nil, err
			}
			rel.Link = link
		}

		rels = append(rels, rel)
	}

	return rels, nil
}

// parseLink reads a many-to-many link block.
func parseLink(relName string, v cue.Value) (*meta.LinkMapping, error) {
	link := &meta.LinkMapping{}

	entityVal := v.LookupPath(cue.ParsePath("entity"))
	if !entityVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("relation.%s.link.entity", relName),
			Message: "link entity is required",
			Pos:     v.Pos(),
		}
	}
	entity, err := entityVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	link.Entity = entity

	joinVal := v.LookupPath(cue.ParsePath("joinProperty"))
	if !joinVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("relation.%s.link.joinProperty", relName),
			Message: "link joinProperty is required",
			Pos:     v.Pos(),
		}
	}
	link.JoinProperty, err = joinVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	invVal := v.LookupPath(cue.ParsePath("inverseJoinProperty"))
	if !invVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("relation.%s.link.inverseJoinProperty", relName),
			Message: "link inverseJoinProperty is required",
			Pos:     v.Pos(),
		}
	}
	link.InverseJoinProperty, err = invVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	return link, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
