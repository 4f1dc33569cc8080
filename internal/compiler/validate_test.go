package compiler

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/meta"
)

func compileDefs(t *testing.T, src string) []*meta.Definition {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	defs, err := CompileValue(v)
	require.NoError(t, err)
	return defs
}

// shopMappings is a complete, valid mapping set exercising every relation
// kind, including the link entity backing the many-to-many.
const shopMappings = `
	entity: Customer: {
		table: "customers"
		id: {property: "id", type: "int"}
		property: name: {type: "string"}
	}
	entity: Order: {
		table: "orders"
		id: {property: "id", generator: "auto"}
		property: ref: {type: "string"}
		relation: customer: {kind: "manyToOne", target: "Customer", joinColumn: "customer_id"}
		relation: lines: {kind: "oneToMany", target: "OrderLine", mappedBy: "order"}
		relation: items: {kind: "manyToMany", target: "Item",
			link: {entity: "OrderItem", joinProperty: "order", inverseJoinProperty: "item"}}
	}
	entity: OrderLine: {
		table: "order_lines"
		id: {property: "id", generator: "auto"}
		property: sku: {type: "string"}
		relation: order: {kind: "manyToOne", target: "Order", joinColumn: "order_id"}
	}
	entity: Item: {
		table: "items"
		id: {property: "id", type: "int"}
		property: label: {type: "string"}
	}
	entity: OrderItem: {
		table: "order_items"
		id: {property: "id", generator: "auto"}
		relation: order: {kind: "manyToOne", target: "Order", joinColumn: "order_id"}
		relation: item: {kind: "manyToOne", target: "Item", joinColumn: "item_id"}
	}
`

func findCode(errs []ValidationError, code string) *ValidationError {
	for i := range errs {
		if errs[i].Code == code {
			return &errs[i]
		}
	}
	return nil
}

func TestValidateCleanMappings(t *testing.T) {
	defs := compileDefs(t, shopMappings)
	assert.Empty(t, Validate(defs))
}

func TestValidateDuplicateEntity(t *testing.T) {
	defs := compileDefs(t, `
		entity: Item: {
			table: "items"
			id: {property: "id", generator: "auto"}
		}
	`)
	defs = append(defs, defs[0])

	errs := Validate(defs)
	dup := findCode(errs, ErrDuplicateEntity)
	require.NotNil(t, dup)
	assert.Equal(t, "Item", dup.Entity)
}

func TestValidateUnknownTarget(t *testing.T) {
	defs := compileDefs(t, `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: customer: {kind: "manyToOne", target: "Customer", joinColumn: "customer_id"}
		}
	`)

	errs := Validate(defs)
	missing := findCode(errs, ErrUnknownTarget)
	require.NotNil(t, missing)
	assert.Equal(t, "Order", missing.Entity)
	assert.Equal(t, "relation.customer", missing.Field)
	assert.Contains(t, missing.Message, "Customer")
	assert.Contains(t, missing.Message, "manyToOne")
}

func TestValidateMissingJoinColumn(t *testing.T) {
	defs := compileDefs(t, `
		entity: Customer: {
			table: "customers"
			id: {property: "id", type: "int"}
		}
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: customer: {kind: "manyToOne", target: "Customer"}
		}
	`)

	errs := Validate(defs)
	missing := findCode(errs, ErrMissingJoinColumn)
	require.NotNil(t, missing)
	assert.Contains(t, missing.Message, "joinColumn")
}

func TestValidateMissingMappedBy(t *testing.T) {
	defs := compileDefs(t, `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: lines: {kind: "oneToMany", target: "OrderLine"}
		}
		entity: OrderLine: {
			table: "order_lines"
			id: {property: "id", generator: "auto"}
			relation: order: {kind: "manyToOne", target: "Order", joinColumn: "order_id"}
		}
	`)

	errs := Validate(defs)
	missing := findCode(errs, ErrMissingMappedBy)
	require.NotNil(t, missing)
	assert.Equal(t, "relation.lines", missing.Field)
}

func TestValidateMappedByUnknownProperty(t *testing.T) {
	defs := compileDefs(t, `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: lines: {kind: "oneToMany", target: "OrderLine", mappedBy: "parent"}
		}
		entity: OrderLine: {
			table: "order_lines"
			id: {property: "id", generator: "auto"}
			relation: order: {kind: "manyToOne", target: "Order", joinColumn: "order_id"}
		}
	`)

	errs := Validate(defs)
	bad := findCode(errs, ErrBadMappedBy)
	require.NotNil(t, bad)
	assert.Contains(t, bad.Message, "parent")
	assert.Contains(t, bad.Message, "OrderLine")
}

func TestValidateMappedByWrongDirection(t *testing.T) {
	defs := compileDefs(t, `
		entity: Customer: {
			table: "customers"
			id: {property: "id", type: "int"}
		}
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: lines: {kind: "oneToMany", target: "OrderLine", mappedBy: "customer"}
		}
		entity: OrderLine: {
			table: "order_lines"
			id: {property: "id", generator: "auto"}
			relation: customer: {kind: "manyToOne", target: "Customer", joinColumn: "customer_id"}
		}
	`)

	errs := Validate(defs)
	bad := findCode(errs, ErrBadMappedBy)
	require.NotNil(t, bad)
	assert.Contains(t, bad.Message, "must be a manyToOne back to Order")
}

func TestValidateLinkEntityMissing(t *testing.T) {
	defs := compileDefs(t, `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: items: {kind: "manyToMany", target: "Item",
				link: {entity: "OrderItem", joinProperty: "order", inverseJoinProperty: "item"}}
		}
		entity: Item: {
			table: "items"
			id: {property: "id", type: "int"}
		}
	`)

	errs := Validate(defs)
	bad := findCode(errs, ErrBadLinkEntity)
	require.NotNil(t, bad)
	assert.Contains(t, bad.Message, `link entity "OrderItem" is not defined`)
}

func TestValidateLinkSideMissing(t *testing.T) {
	defs := compileDefs(t, `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: items: {kind: "manyToMany", target: "Item",
				link: {entity: "OrderItem", joinProperty: "order", inverseJoinProperty: "item"}}
		}
		entity: Item: {
			table: "items"
			id: {property: "id", type: "int"}
		}
		entity: OrderItem: {
			table: "order_items"
			id: {property: "id", generator: "auto"}
			relation: order: {kind: "manyToOne", target: "Order", joinColumn: "order_id"}
		}
	`)

	errs := Validate(defs)
	bad := findCode(errs, ErrBadLinkEntity)
	require.NotNil(t, bad)
	assert.Contains(t, bad.Message, `no relation "item"`)
}

func TestValidateLinkSideWrongTarget(t *testing.T) {
	defs := compileDefs(t, `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: items: {kind: "manyToMany", target: "Item",
				link: {entity: "OrderItem", joinProperty: "order", inverseJoinProperty: "item"}}
		}
		entity: Item: {
			table: "items"
			id: {property: "id", type: "int"}
		}
		entity: OrderItem: {
			table: "order_items"
			id: {property: "id", generator: "auto"}
			relation: order: {kind: "manyToOne", target: "Order", joinColumn: "order_id"}
			relation: item: {kind: "manyToOne", target: "Order", joinColumn: "item_id"}
		}
	`)

	errs := Validate(defs)
	bad := findCode(errs, ErrBadLinkEntity)
	require.NotNil(t, bad)
	assert.Contains(t, bad.Message, "must reference Item")
}

func TestValidateLinkMappingAbsent(t *testing.T) {
	// CompileEntity rejects partial link blocks, so a missing mapping can
	// only come from hand-built definitions.
	defs := []*meta.Definition{
		{
			Name:  "Item",
			Table: "items",
			ID:    meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAssigned},
			Properties: []meta.PropertyDefinition{
				{Name: "id", Column: "id", Type: meta.TypeInt},
			},
		},
		{
			Name:  "Order",
			Table: "orders",
			ID:    meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAuto},
			Properties: []meta.PropertyDefinition{
				{Name: "id", Column: "id", Type: meta.TypeInt, Nullable: true},
			},
			Relations: []meta.RelationDefinition{
				{Name: "items", Kind: meta.ManyToMany, Target: "Item"},
			},
		},
	}

	errs := Validate(defs)
	bad := findCode(errs, ErrBadLink)
	require.NotNil(t, bad)
	assert.Equal(t, "relation.items", bad.Field)
}

func TestValidateIDGeneratorMismatch(t *testing.T) {
	defs := []*meta.Definition{
		{
			Name:  "Tag",
			Table: "tags",
			ID:    meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAuto},
			Properties: []meta.PropertyDefinition{
				{Name: "id", Column: "id", Type: meta.TypeString, Nullable: true},
			},
		},
	}

	errs := Validate(defs)
	bad := findCode(errs, ErrBadIDMapping)
	require.NotNil(t, bad)
	assert.Contains(t, bad.Message, "auto generator requires an int id")
}

func TestValidateDuplicateColumn(t *testing.T) {
	defs := compileDefs(t, `
		entity: Customer: {
			table: "customers"
			id: {property: "id", type: "int"}
		}
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			property: customer_ref: {column: "customer_id", type: "int"}
			relation: customer: {kind: "manyToOne", target: "Customer", joinColumn: "customer_id"}
		}
	`)

	errs := Validate(defs)
	dup := findCode(errs, ErrDuplicateColumn)
	require.NotNil(t, dup)
	assert.Contains(t, dup.Message, `"customer_id"`)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	defs := compileDefs(t, `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: customer: {kind: "manyToOne", target: "Customer"}
			relation: lines: {kind: "oneToMany", target: "OrderLine"}
		}
	`)

	errs := Validate(defs)
	assert.NotNil(t, findCode(errs, ErrUnknownTarget))
	assert.NotNil(t, findCode(errs, ErrMissingJoinColumn))
	assert.NotNil(t, findCode(errs, ErrMissingMappedBy))
	assert.GreaterOrEqual(t, len(errs), 3)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{
		Entity:  "Order",
		Field:   "relation.items",
		Message: "link entity missing",
		Code:    ErrBadLinkEntity,
	}
	assert.Equal(t, "[E115] Order: relation.items: link entity missing", err.Error())

	bare := ValidationError{Field: "entity", Message: "defined twice", Code: ErrDuplicateEntity}
	assert.Equal(t, "[E100] entity: defined twice", bare.Error())
}
