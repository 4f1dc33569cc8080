package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMapping(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestCompileValueMultipleEntities(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		entity: Customer: {
			table: "customers"
			id: {property: "id", type: "int"}
			property: name: {type: "string"}
		}
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: customer: {kind: "manyToOne", target: "Customer", joinColumn: "customer_id"}
		}
	`)
	require.NoError(t, v.Err())

	defs, err := CompileValue(v)
	require.NoError(t, err)

	require.Len(t, defs, 2)
	assert.Equal(t, "Customer", defs[0].Name)
	assert.Equal(t, "Order", defs[1].Name)
}

func TestCompileValueWithoutEntities(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`other: {x: 1}`)
	require.NoError(t, v.Err())

	_, err := CompileValue(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entity mappings found")
}

func TestCompileFilesConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeMapping(t, dir, "customer.cue", `
		entity: Customer: {
			table: "customers"
			id: {property: "id", type: "int"}
		}
	`)
	second := writeMapping(t, dir, "order.cue", `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
		}
	`)

	defs, err := CompileFiles(first, second)
	require.NoError(t, err)

	require.Len(t, defs, 2)
	assert.Equal(t, "Customer", defs[0].Name)
	assert.Equal(t, "Order", defs[1].Name)
}

func TestCompileFilesRejectsDuplicateEntity(t *testing.T) {
	dir := t.TempDir()
	first := writeMapping(t, dir, "a.cue", `
		entity: Item: {
			table: "items"
			id: {property: "id", generator: "auto"}
		}
	`)
	second := writeMapping(t, dir, "b.cue", `
		entity: Item: {
			table: "items_v2"
			id: {property: "id", generator: "auto"}
		}
	`)

	_, err := CompileFiles(first, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity.Item")
	assert.Contains(t, err.Error(), "already defined")
	assert.Contains(t, err.Error(), "a.cue")
}

func TestCompileFilesRequiresArguments(t *testing.T) {
	_, err := CompileFiles()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mapping files")
}

func TestCompileFilesMissingFile(t *testing.T) {
	_, err := CompileFiles(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read mapping file")
}

func TestCompileDirLoadsEveryFile(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "customer.cue", `
		entity: Customer: {
			table: "customers"
			id: {property: "id", type: "int"}
		}
	`)
	writeMapping(t, dir, "order.cue", `
		entity: Order: {
			table: "orders"
			id: {property: "id", generator: "auto"}
			relation: customer: {kind: "manyToOne", target: "Customer", joinColumn: "customer_id"}
		}
	`)

	defs, err := CompileDir(dir)
	require.NoError(t, err)

	// Walk order is lexical, so customer.cue compiles before order.cue.
	require.Len(t, defs, 2)
	assert.Equal(t, "Customer", defs[0].Name)
	assert.Equal(t, "Order", defs[1].Name)
}

func TestCompileDirWithoutCUEFiles(t *testing.T) {
	_, err := CompileDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files found")
}

func TestCompileDirMissingDirectory(t *testing.T) {
	_, err := CompileDir(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mappings directory")
}

func TestFindCUEFilesWalksNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	writeMapping(t, dir, "top.cue", `entity: {}`)
	writeMapping(t, filepath.Join(dir, "nested"), "deep.cue", `entity: {}`)
	writeMapping(t, dir, "readme.txt", `not cue`)

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
