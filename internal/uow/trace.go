package uow

import "loom/internal/meta"

// Trace operation names, one per physical write kind.
const (
	OpInsert     = "insert"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpLinkInsert = "link-insert"
	OpLinkDelete = "link-delete"
)

// TraceOp records one physical write executed during a flush cycle. The
// sequence number orders operations across the whole session; Columns lists
// the written columns in statement order.
type TraceOp struct {
	Seq     int64
	Op      string
	Entity  string
	Table   string
	Key     meta.Value
	Columns []string
}

// TraceValue renders operations as canonical value trees, one map per
// operation with meta.Value leaves. Callers embed the result in larger
// structures before encoding with meta.MarshalCanonical.
func TraceValue(ops []TraceOp) []any {
	arr := make([]any, len(ops))
	for i, op := range ops {
		cols := make([]any, len(op.Columns))
		for j, c := range op.Columns {
			cols[j] = meta.String(c)
		}
		key := op.Key
		if key == nil {
			key = meta.Null{}
		}
		arr[i] = map[string]any{
			"seq":     meta.Int(op.Seq),
			"op":      meta.String(op.Op),
			"entity":  meta.String(op.Entity),
			"table":   meta.String(op.Table),
			"key":     key,
			"columns": cols,
		}
	}
	return arr
}

// CanonicalTrace renders operations as a deterministic JSON array for golden
// comparison. Equal traces always produce identical bytes.
func CanonicalTrace(ops []TraceOp) ([]byte, error) {
	return meta.MarshalCanonical(TraceValue(ops))
}
