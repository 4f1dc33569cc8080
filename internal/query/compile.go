package query

import (
	"fmt"
	"strings"

	"loom/internal/meta"
)

// QuoteIdent quotes a SQL identifier with double quotes, doubling any
// embedded quote characters.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Compile renders a predicate into a parameterized WHERE clause fragment and
// its argument list. Arguments appear in left-to-right tree order, so equal
// trees always compile to identical SQL.
func Compile(p Predicate) (string, []any, error) {
	var sb strings.Builder
	var args []any
	if err := compileNode(&sb, &args, p); err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

func compileNode(sb *strings.Builder, args *[]any, p Predicate) error {
	switch node := p.(type) {
	case nil:
		return fmt.Errorf("nil predicate")
	case Eq:
		if node.Column == "" {
			return fmt.Errorf("eq predicate has no column")
		}
		if meta.IsNull(node.Value) {
			sb.WriteString(QuoteIdent(node.Column))
			sb.WriteString(" IS NULL")
			return nil
		}
		param, err := meta.ToParam(node.Value)
		if err != nil {
			return fmt.Errorf("eq predicate on %s: %w", node.Column, err)
		}
		sb.WriteString(QuoteIdent(node.Column))
		sb.WriteString(" = ?")
		*args = append(*args, param)
		return nil
	case And:
		if len(node.Predicates) == 0 {
			return fmt.Errorf("empty conjunction")
		}
		sb.WriteByte('(')
		for i, child := range node.Predicates {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			if err := compileNode(sb, args, child); err != nil {
				return err
			}
		}
		sb.WriteByte(')')
		return nil
	default:
		return fmt.Errorf("unsupported predicate type %T", p)
	}
}
