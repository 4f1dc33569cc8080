package meta

import (
	"fmt"
	"reflect"
	"weak"
)

// PropertyDescriptor maps one scalar property of an entity to a table
// column. Access goes through the Get and Set closures captured at
// registration, so reading or writing a property never reflects over the
// entity's fields.
type PropertyDescriptor struct {
	Name     string
	Column   string
	Type     ColumnType
	Nullable bool

	Get func(entity any) Value
	Set func(entity any, v Value) error
}

// RelationKind classifies an association between two entities.
type RelationKind int

const (
	OneToOne RelationKind = iota + 1
	OneToMany
	ManyToOne
	ManyToMany
)

// String returns the mapping-language name of the kind.
func (k RelationKind) String() string {
	switch k {
	case OneToOne:
		return "oneToOne"
	case OneToMany:
		return "oneToMany"
	case ManyToOne:
		return "manyToOne"
	case ManyToMany:
		return "manyToMany"
	default:
		return fmt.Sprintf("RelationKind(%d)", int(k))
	}
}

// ParseRelationKind parses a mapping-language relation kind name.
func ParseRelationKind(s string) (RelationKind, error) {
	switch s {
	case "oneToOne":
		return OneToOne, nil
	case "oneToMany":
		return OneToMany, nil
	case "manyToOne":
		return ManyToOne, nil
	case "manyToMany":
		return ManyToMany, nil
	default:
		return 0, fmt.Errorf("unknown relation kind %q (valid: oneToOne, oneToMany, manyToOne, manyToMany)", s)
	}
}

// IsCollection reports whether the kind holds a collection of entities.
func (k RelationKind) IsCollection() bool {
	return k == OneToMany || k == ManyToMany
}

// LinkMapping names the link entity joining the two sides of a many-to-many
// relation and its two reference properties: JoinProperty points back at the
// owning side, InverseJoinProperty at the related side.
type LinkMapping struct {
	Entity              string
	JoinProperty        string
	InverseJoinProperty string
}

// RelationDescriptor maps one association of an entity.
//
// The owning single-reference kinds (ManyToOne, OneToOne) carry JoinColumn,
// the foreign-key column on this entity's table. OneToMany carries MappedBy,
// the name of the ManyToOne property on the target that owns the foreign
// key. ManyToMany carries Link.
type RelationDescriptor struct {
	Name       string
	Kind       RelationKind
	Target     string
	JoinColumn string
	MappedBy   string
	Nullable   bool
	Link       *LinkMapping

	// Get returns the current related value: the related entity or nil for
	// single references, a collection value or nil for collection kinds.
	Get func(entity any) any
	// Set stores a value resolved by the engine: the related entity for
	// single references, a collection for collection kinds.
	Set func(entity any, related any) error
}

// IDGenerator selects how an entity's primary key is established.
type IDGenerator int

const (
	// GeneratorAssigned expects the application to set the key before the
	// entity is flushed.
	GeneratorAssigned IDGenerator = iota + 1
	// GeneratorAuto lets the storage assign an integer key on insert.
	GeneratorAuto
	// GeneratorUUID assigns a generated string identifier on insert.
	GeneratorUUID
)

// String returns the mapping-language name of the generator.
func (g IDGenerator) String() string {
	switch g {
	case GeneratorAssigned:
		return "assigned"
	case GeneratorAuto:
		return "auto"
	case GeneratorUUID:
		return "uuid"
	default:
		return fmt.Sprintf("IDGenerator(%d)", int(g))
	}
}

// ParseIDGenerator parses a mapping-language generator name.
func ParseIDGenerator(s string) (IDGenerator, error) {
	switch s {
	case "assigned":
		return GeneratorAssigned, nil
	case "auto":
		return GeneratorAuto, nil
	case "uuid":
		return GeneratorUUID, nil
	default:
		return 0, fmt.Errorf("unknown id generator %q (valid: assigned, auto, uuid)", s)
	}
}

// IDMapping names the property and column holding an entity's primary key.
// The property must appear in the entity's Properties list.
type IDMapping struct {
	Property  string
	Column    string
	Generator IDGenerator
}

// EntityDescriptor is the complete mapping of one entity type.
type EntityDescriptor struct {
	Name       string
	Table      string
	ID         IDMapping
	Properties []PropertyDescriptor
	Relations  []RelationDescriptor

	// New constructs a blank instance for hydration from a storage row.
	New func() any
	// Ref builds a weak reference to an instance for the identity map.
	// When nil the identity map holds the instance strongly.
	Ref func(entity any) func() any

	goType reflect.Type
}

// Describe builds a descriptor skeleton bound to the Go type E. The New
// factory and the weak-reference constructor are derived from E; the caller
// fills in table mapping, properties, and relations.
func Describe[E any](name, table string) *EntityDescriptor {
	return &EntityDescriptor{
		Name:  name,
		Table: table,
		New:   func() any { return new(E) },
		Ref: func(entity any) func() any {
			ptr := weak.Make(entity.(*E))
			return func() any {
				if v := ptr.Value(); v != nil {
					return v
				}
				return nil
			}
		},
		goType: reflect.TypeOf((*E)(nil)),
	}
}

// Property returns the named property descriptor.
func (d *EntityDescriptor) Property(name string) (*PropertyDescriptor, bool) {
	for i := range d.Properties {
		if d.Properties[i].Name == name {
			return &d.Properties[i], true
		}
	}
	return nil, false
}

// Relation returns the named relation descriptor.
func (d *EntityDescriptor) Relation(name string) (*RelationDescriptor, bool) {
	for i := range d.Relations {
		if d.Relations[i].Name == name {
			return &d.Relations[i], true
		}
	}
	return nil, false
}

// RelationsOfKind returns the relations of the given kind in declaration
// order.
func (d *EntityDescriptor) RelationsOfKind(kind RelationKind) []*RelationDescriptor {
	var out []*RelationDescriptor
	for i := range d.Relations {
		if d.Relations[i].Kind == kind {
			out = append(out, &d.Relations[i])
		}
	}
	return out
}

// IDPropertyDescriptor returns the property holding the primary key.
func (d *EntityDescriptor) IDPropertyDescriptor() (*PropertyDescriptor, bool) {
	return d.Property(d.ID.Property)
}

// Key reads the entity's primary key value. A missing or unset key reads as
// Null.
func (d *EntityDescriptor) Key(entity any) Value {
	prop, ok := d.IDPropertyDescriptor()
	if !ok || prop.Get == nil {
		return Null{}
	}
	v := prop.Get(entity)
	if v == nil {
		return Null{}
	}
	return v
}

// SetKey writes the entity's primary key value.
func (d *EntityDescriptor) SetKey(entity any, v Value) error {
	prop, ok := d.IDPropertyDescriptor()
	if !ok || prop.Set == nil {
		return &MappingError{Entity: d.Name, Property: d.ID.Property, Message: "id property has no setter"}
	}
	return prop.Set(entity, v)
}

// RelationGetter adapts a typed relation getter to the descriptor signature.
func RelationGetter[E any](fn func(*E) any) func(any) any {
	return func(entity any) any { return fn(entity.(*E)) }
}

// RelationSetter adapts a typed relation setter to the descriptor signature.
func RelationSetter[E any](fn func(*E, any) error) func(any, any) error {
	return func(entity, related any) error { return fn(entity.(*E), related) }
}

// Getter adapts a typed property getter to the descriptor signature.
func Getter[E any](fn func(*E) Value) func(any) Value {
	return func(entity any) Value { return fn(entity.(*E)) }
}

// Setter adapts a typed property setter to the descriptor signature.
func Setter[E any](fn func(*E, Value) error) func(any, Value) error {
	return func(entity any, v Value) error { return fn(entity.(*E), v) }
}
