package uow

import (
	"fmt"

	"loom/internal/meta"
	"loom/internal/store"
)

// entityColumns lists the stored columns of an entity: every mapped scalar
// property plus the join column of each owning single-reference relation.
// Join columns take the type of the target entity's identifier.
func entityColumns(registry *meta.Registry, desc *meta.EntityDescriptor) ([]store.Column, error) {
	cols := make([]store.Column, 0, len(desc.Properties)+len(desc.Relations))
	for _, prop := range desc.Properties {
		cols = append(cols, store.Column{Name: prop.Column, Type: prop.Type})
	}
	for i := range desc.Relations {
		rel := &desc.Relations[i]
		if rel.Kind != meta.ManyToOne && rel.Kind != meta.OneToOne {
			continue
		}
		idProp, err := targetIDProperty(registry, desc, rel)
		if err != nil {
			return nil, err
		}
		cols = append(cols, store.Column{Name: rel.JoinColumn, Type: idProp.Type})
	}
	return cols, nil
}

// targetIDProperty resolves the identifier property of a relation's target
// entity.
func targetIDProperty(registry *meta.Registry, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor) (*meta.PropertyDescriptor, error) {
	target, ok := registry.Lookup(rel.Target)
	if !ok {
		return nil, &meta.MappingError{
			Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
			Message: fmt.Sprintf("target entity %q is not registered", rel.Target),
		}
	}
	idProp, ok := target.IDPropertyDescriptor()
	if !ok {
		return nil, &meta.MappingError{
			Entity: rel.Target, Property: target.ID.Property,
			Message: "id property is not a mapped property",
		}
	}
	return idProp, nil
}
