package harness

import (
	"weak"

	"loom/internal/meta"
)

// Record is a dynamic entity instance backed by a field map. Scenarios work
// entirely from compiled mapping definitions, so there is no Go struct to
// bind accessors to; a Record stands in for one. Scalar properties live in
// fields, relation values (related Records or collections) in refs.
//
// Every Record carries its entity name and implements meta.EntityNamer,
// because all records share one Go type and the registry cannot resolve them
// by type alone.
type Record struct {
	entity string
	fields map[string]meta.Value
	refs   map[string]any
}

// NewRecord returns a blank record for the named entity.
func NewRecord(entity string) *Record {
	return &Record{
		entity: entity,
		fields: make(map[string]meta.Value),
		refs:   make(map[string]any),
	}
}

// EntityName returns the entity this record is an instance of.
func (r *Record) EntityName() string {
	return r.entity
}

// Get reads a scalar property. Unset properties read as Null.
func (r *Record) Get(name string) meta.Value {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return meta.Null{}
	}
	return v
}

// Set writes a scalar property.
func (r *Record) Set(name string, v meta.Value) {
	if v == nil {
		v = meta.Null{}
	}
	r.fields[name] = v
}

// Ref reads a relation value: a related *Record, a *uow.Collection, or nil
// when unset.
func (r *Record) Ref(name string) any {
	return r.refs[name]
}

// SetRef writes a relation value.
func (r *Record) SetRef(name string, v any) {
	if v == nil {
		delete(r.refs, name)
		return
	}
	r.refs[name] = v
}

// BuildDescriptor binds a compiled definition to record-backed accessors,
// producing a descriptor the registry accepts. The instance factory makes
// records named after the entity and the identity map reference is weak, the
// same ownership contract struct-backed descriptors get from meta.Describe.
func BuildDescriptor(def *meta.Definition) *meta.EntityDescriptor {
	desc := &meta.EntityDescriptor{
		Name:  def.Name,
		Table: def.Table,
		ID:    def.ID,
		New:   func() any { return NewRecord(def.Name) },
		Ref: func(entity any) func() any {
			ptr := weak.Make(entity.(*Record))
			return func() any {
				if v := ptr.Value(); v != nil {
					return v
				}
				return nil
			}
		},
	}
	for _, p := range def.Properties {
		name := p.Name
		desc.Properties = append(desc.Properties, meta.PropertyDescriptor{
			Name:     p.Name,
			Column:   p.Column,
			Type:     p.Type,
			Nullable: p.Nullable,
			Get: func(entity any) meta.Value {
				return entity.(*Record).Get(name)
			},
			Set: func(entity any, v meta.Value) error {
				entity.(*Record).Set(name, v)
				return nil
			},
		})
	}
	for _, rel := range def.Relations {
		name := rel.Name
		desc.Relations = append(desc.Relations, meta.RelationDescriptor{
			Name:       rel.Name,
			Kind:       rel.Kind,
			Target:     rel.Target,
			JoinColumn: rel.JoinColumn,
			MappedBy:   rel.MappedBy,
			Nullable:   rel.Nullable,
			Link:       rel.Link,
			Get: func(entity any) any {
				return entity.(*Record).Ref(name)
			},
			Set: func(entity any, related any) error {
				entity.(*Record).SetRef(name, related)
				return nil
			},
		})
	}
	return desc
}

// BuildRegistry registers record-backed descriptors for every definition, in
// the order given.
func BuildRegistry(defs []*meta.Definition) (*meta.Registry, error) {
	registry := meta.NewRegistry()
	for _, def := range defs {
		if err := registry.Register(BuildDescriptor(def)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
