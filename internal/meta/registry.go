package meta

import "reflect"

// EntityNamer lets an entity instance name its own descriptor. Dynamic
// entity types that share one Go type across several descriptors implement
// this so Resolve stays unambiguous.
type EntityNamer interface {
	EntityName() string
}

// Registry holds the registered entity descriptors and resolves entity
// instances back to their metadata. A registry is populated once during
// setup and read-only afterwards; it is not safe for concurrent
// registration.
type Registry struct {
	byName map[string]*EntityDescriptor
	byType map[reflect.Type]*EntityDescriptor
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*EntityDescriptor),
		byType: make(map[reflect.Type]*EntityDescriptor),
	}
}

// Register validates the descriptor's local invariants and adds it to the
// registry. Cross-entity references (relation targets, link entities) are
// checked when the relation is first processed, not here.
func (r *Registry) Register(d *EntityDescriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}
	if _, dup := r.byName[d.Name]; dup {
		return &MappingError{Entity: d.Name, Message: "entity registered twice"}
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)

	t := d.goType
	if t == nil && d.New != nil {
		t = reflect.TypeOf(d.New())
	}
	if t != nil {
		// A Go type shared by several descriptors cannot be resolved by
		// type alone; mark it ambiguous and rely on EntityNamer.
		if prev, taken := r.byType[t]; taken && prev != d {
			r.byType[t] = nil
		} else if !taken {
			r.byType[t] = d
		}
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*EntityDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Resolve maps an entity instance to its descriptor. Instances implementing
// EntityNamer resolve by name; all others resolve by Go type.
func (r *Registry) Resolve(entity any) (*EntityDescriptor, error) {
	if entity == nil {
		return nil, &MappingError{Message: "cannot resolve nil entity"}
	}
	if named, ok := entity.(EntityNamer); ok {
		if d, found := r.byName[named.EntityName()]; found {
			return d, nil
		}
		return nil, &MappingError{Entity: named.EntityName(), Message: "entity is not registered"}
	}
	t := reflect.TypeOf(entity)
	d, ok := r.byType[t]
	if !ok {
		return nil, &MappingError{Entity: t.String(), Message: "entity type is not registered"}
	}
	if d == nil {
		return nil, &MappingError{Entity: t.String(), Message: "entity type is bound to more than one descriptor"}
	}
	return d, nil
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []*EntityDescriptor {
	out := make([]*EntityDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// LinkEntities returns the names of entities referenced as link entities by
// some many-to-many relation, in registration order of the owning entity.
func (r *Registry) LinkEntities() map[string]bool {
	links := make(map[string]bool)
	for _, name := range r.order {
		for _, rel := range r.byName[name].Relations {
			if rel.Kind == ManyToMany && rel.Link != nil {
				links[rel.Link.Entity] = true
			}
		}
	}
	return links
}

func validateDescriptor(d *EntityDescriptor) error {
	if d.Name == "" {
		return &MappingError{Message: "entity name is empty"}
	}
	if d.Table == "" {
		return &MappingError{Entity: d.Name, Message: "table name is empty"}
	}
	if d.New == nil {
		return &MappingError{Entity: d.Name, Message: "missing New factory"}
	}
	if d.ID.Property == "" {
		return &MappingError{Entity: d.Name, Message: "id mapping names no property"}
	}
	if d.ID.Generator == 0 {
		d.ID.Generator = GeneratorAssigned
	}

	names := make(map[string]bool)
	columns := make(map[string]bool)
	for i := range d.Properties {
		p := &d.Properties[i]
		if p.Name == "" {
			return &MappingError{Entity: d.Name, Message: "property with empty name"}
		}
		if names[p.Name] {
			return &MappingError{Entity: d.Name, Property: p.Name, Message: "duplicate property name"}
		}
		names[p.Name] = true
		if p.Column == "" {
			return &MappingError{Entity: d.Name, Property: p.Name, Message: "property has no column"}
		}
		if columns[p.Column] {
			return &MappingError{Entity: d.Name, Property: p.Name, Message: "duplicate column " + p.Column}
		}
		columns[p.Column] = true
		if p.Type < TypeString || p.Type > TypeBytes {
			return &MappingError{Entity: d.Name, Property: p.Name, Message: "invalid column type"}
		}
		if p.Get == nil || p.Set == nil {
			return &MappingError{Entity: d.Name, Property: p.Name, Message: "property has no accessor"}
		}
	}

	idProp, ok := d.Property(d.ID.Property)
	if !ok {
		return &MappingError{Entity: d.Name, Property: d.ID.Property, Message: "id property is not a mapped property"}
	}
	if idProp.Type != TypeString && idProp.Type != TypeInt {
		return &MappingError{Entity: d.Name, Property: d.ID.Property, Message: "id property must be string or int"}
	}
	switch d.ID.Generator {
	case GeneratorAuto:
		if idProp.Type != TypeInt {
			return &MappingError{Entity: d.Name, Property: d.ID.Property, Message: "auto generator requires an int id"}
		}
	case GeneratorUUID:
		if idProp.Type != TypeString {
			return &MappingError{Entity: d.Name, Property: d.ID.Property, Message: "uuid generator requires a string id"}
		}
	}
	if d.ID.Column == "" {
		d.ID.Column = idProp.Column
	} else if d.ID.Column != idProp.Column {
		return &MappingError{Entity: d.Name, Property: d.ID.Property, Message: "id column differs from property column"}
	}

	for i := range d.Relations {
		rel := &d.Relations[i]
		if rel.Name == "" {
			return &MappingError{Entity: d.Name, Message: "relation with empty name"}
		}
		if names[rel.Name] {
			return &MappingError{Entity: d.Name, Property: rel.Name, Message: "relation name collides with another member"}
		}
		names[rel.Name] = true
		if rel.Target == "" {
			return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "relation has no target"}
		}
		if rel.Get == nil || rel.Set == nil {
			return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "relation has no accessor"}
		}
		switch rel.Kind {
		case ManyToOne, OneToOne:
			if rel.JoinColumn == "" {
				return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "missing join column"}
			}
			if columns[rel.JoinColumn] {
				return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "duplicate column " + rel.JoinColumn}
			}
			columns[rel.JoinColumn] = true
		case OneToMany:
			if rel.MappedBy == "" {
				return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "missing mappedBy property"}
			}
			if rel.JoinColumn != "" {
				return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "one-to-many does not own a join column"}
			}
		case ManyToMany:
			if rel.Link == nil {
				return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "missing link mapping"}
			}
			if rel.Link.Entity == "" || rel.Link.JoinProperty == "" || rel.Link.InverseJoinProperty == "" {
				return &MappingError{Entity: d.Name, Property: rel.Name, Kind: rel.Kind, Message: "incomplete link mapping"}
			}
		default:
			return &MappingError{Entity: d.Name, Property: rel.Name, Message: "invalid relation kind"}
		}
	}
	return nil
}
