package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"loom/internal/meta"
)

// CompileValue extracts every entity mapping from a built CUE value. The
// value's top-level "entity" struct holds one field per entity; fields
// compile in declaration order.
func CompileValue(v cue.Value) ([]*meta.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, &CompileError{
			Field:   "entity",
			Message: "no entity mappings found",
			Pos:     v.Pos(),
		}
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []*meta.Definition
	for iter.Next() {
		def, err := CompileEntity(iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, &CompileError{
			Field:   "entity",
			Message: "no entity mappings found",
			Pos:     v.Pos(),
		}
	}
	return defs, nil
}

// CompileFiles compiles the given CUE mapping files. Each file is compiled
// on its own so positions in errors point at the right file; definitions
// concatenate in argument order. An entity defined in two files is an error.
func CompileFiles(paths ...string) ([]*meta.Definition, error) {
	if len(paths) == 0 {
		return nil, &CompileError{Field: "entity", Message: "no mapping files given"}
	}

	ctx := cuecontext.New()
	var defs []*meta.Definition
	seen := make(map[string]string)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mapping file: %w", err)
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		fileDefs, err := CompileValue(v)
		if err != nil {
			return nil, err
		}
		for _, def := range fileDefs {
			if prev, dup := seen[def.Name]; dup {
				return nil, &CompileError{
					Field:   "entity." + def.Name,
					Message: fmt.Sprintf("entity already defined in %s", prev),
				}
			}
			seen[def.Name] = path
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// CompileDir compiles every CUE file under dir, walking nested directories
// in lexical order. Mapping files need no package clause; each file stands
// alone and contributes the entities it declares.
func CompileDir(dir string) ([]*meta.Definition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mappings directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan mappings directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	return CompileFiles(files...)
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
