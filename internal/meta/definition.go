package meta

// Definition is the accessor-free mapping of one entity as produced by the
// mapping compiler. It carries everything an EntityDescriptor does except
// the typed closures and the instance factory; callers bind those (generated
// records or hand-written accessor bundles) to turn a Definition into a
// registrable descriptor.
type Definition struct {
	Name       string
	Table      string
	ID         IDMapping
	Properties []PropertyDefinition
	Relations  []RelationDefinition
}

// PropertyDefinition maps one scalar property to a column without binding
// accessors.
type PropertyDefinition struct {
	Name     string
	Column   string
	Type     ColumnType
	Nullable bool
}

// RelationDefinition maps one association without binding accessors. The
// fields mirror RelationDescriptor: owning single-reference kinds carry
// JoinColumn, OneToMany carries MappedBy, ManyToMany carries Link.
type RelationDefinition struct {
	Name       string
	Kind       RelationKind
	Target     string
	JoinColumn string
	MappedBy   string
	Nullable   bool
	Link       *LinkMapping
}

// Property returns the named property definition.
func (d *Definition) Property(name string) (*PropertyDefinition, bool) {
	for i := range d.Properties {
		if d.Properties[i].Name == name {
			return &d.Properties[i], true
		}
	}
	return nil, false
}

// Relation returns the named relation definition.
func (d *Definition) Relation(name string) (*RelationDefinition, bool) {
	for i := range d.Relations {
		if d.Relations[i].Name == name {
			return &d.Relations[i], true
		}
	}
	return nil, false
}
