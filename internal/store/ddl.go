package store

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/meta"
	"loom/internal/query"
)

// CreateTables creates one table per registered entity, in registration
// order, using CREATE TABLE IF NOT EXISTS so repeated setup is idempotent.
//
// Auto-generated integer keys become INTEGER PRIMARY KEY AUTOINCREMENT so
// rowids are never reused. Owning single-reference relations contribute a
// foreign-key column referencing the target's key. Link entity tables (those
// named by some many-to-many link mapping) additionally get ON DELETE
// CASCADE on their reference columns and a UNIQUE constraint over the pair,
// mirroring the engine's link dedup at the storage level.
func CreateTables(ctx context.Context, exec Executor, registry *meta.Registry) error {
	descs := registry.Descriptors()
	stmts, err := SchemaDDL(registry)
	if err != nil {
		return err
	}
	for i, ddl := range stmts {
		if _, err := exec.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", descs[i].Table, err)
		}
	}
	return nil
}

// SchemaDDL returns the CREATE TABLE statements for every registered entity,
// in registration order.
func SchemaDDL(registry *meta.Registry) ([]string, error) {
	linkEntities := registry.LinkEntities()
	stmts := make([]string, 0, len(registry.Descriptors()))
	for _, desc := range registry.Descriptors() {
		ddl, err := tableDDL(registry, desc, linkEntities[desc.Name])
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, ddl)
	}
	return stmts, nil
}

func tableDDL(registry *meta.Registry, desc *meta.EntityDescriptor, isLink bool) (string, error) {
	var defs []string
	for _, prop := range desc.Properties {
		defs = append(defs, columnDDL(desc, &prop))
	}

	var refCols []string
	for i := range desc.Relations {
		rel := &desc.Relations[i]
		if rel.Kind != meta.ManyToOne && rel.Kind != meta.OneToOne {
			continue
		}
		target, ok := registry.Lookup(rel.Target)
		if !ok {
			return "", &meta.MappingError{
				Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
				Message: fmt.Sprintf("target entity %q is not registered", rel.Target),
			}
		}
		targetID, ok := target.IDPropertyDescriptor()
		if !ok {
			return "", &meta.MappingError{
				Entity: rel.Target, Property: target.ID.Property,
				Message: "id property is not a mapped property",
			}
		}
		def := query.QuoteIdent(rel.JoinColumn) + " " + targetID.Type.SQLType()
		if !rel.Nullable {
			def += " NOT NULL"
		}
		def += fmt.Sprintf(" REFERENCES %s(%s)", query.QuoteIdent(target.Table), query.QuoteIdent(target.ID.Column))
		if isLink {
			def += " ON DELETE CASCADE"
		}
		defs = append(defs, def)
		refCols = append(refCols, query.QuoteIdent(rel.JoinColumn))
	}

	if isLink && len(refCols) == 2 {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s, %s)", refCols[0], refCols[1]))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		query.QuoteIdent(desc.Table), strings.Join(defs, ",\n  ")), nil
}

func columnDDL(desc *meta.EntityDescriptor, prop *meta.PropertyDescriptor) string {
	def := query.QuoteIdent(prop.Column) + " "
	switch {
	case prop.Name == desc.ID.Property && desc.ID.Generator == meta.GeneratorAuto:
		def += "INTEGER PRIMARY KEY AUTOINCREMENT"
	case prop.Name == desc.ID.Property:
		def += prop.Type.SQLType() + " PRIMARY KEY"
	default:
		def += prop.Type.SQLType()
		if !prop.Nullable {
			def += " NOT NULL"
		}
	}
	return def
}
