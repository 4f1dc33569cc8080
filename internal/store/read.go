package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loom/internal/meta"
	"loom/internal/query"
)

// SelectByKey reads the single row identified by keyCol. The second return
// value reports whether a row was found; an absent row is not an error.
func (s *Store) SelectByKey(ctx context.Context, exec Executor, table string, cols []Column, keyCol string, key meta.Value) (Row, bool, error) {
	keyParam, err := meta.ToParam(key)
	if err != nil {
		return nil, false, fmt.Errorf("select from %s: key: %w", table, err)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		columnList(cols), query.QuoteIdent(table), query.QuoteIdent(keyCol))

	rows, err := s.executor(exec).QueryContext(ctx, stmt, keyParam)
	if err != nil {
		return nil, false, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("select from %s: %w", table, err)
		}
		return nil, false, nil
	}
	row, err := scanRow(rows, cols)
	if err != nil {
		return nil, false, fmt.Errorf("select from %s: %w", table, err)
	}
	return row, true, nil
}

// SelectWhere reads every row matching the predicate, ordered by orderCol so
// iteration is deterministic. A nil predicate selects the whole table.
// Returns an empty slice, not nil, when nothing matches.
func (s *Store) SelectWhere(ctx context.Context, exec Executor, table string, cols []Column, pred query.Predicate, orderCol string) ([]Row, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columnList(cols), query.QuoteIdent(table))

	var args []any
	if pred != nil {
		clause, clauseArgs, err := query.Compile(pred)
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", table, err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(clause)
		args = clauseArgs
	}
	fmt.Fprintf(&sb, " ORDER BY %s COLLATE BINARY ASC", query.QuoteIdent(orderCol))

	rows, err := s.executor(exec).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return out, nil
}

// SelectLinkRow reads the single link row whose reference columns match the
// given pair. The second return value reports whether the row exists.
func (s *Store) SelectLinkRow(ctx context.Context, exec Executor, table string, cols []Column, joinCol string, joinVal meta.Value, invCol string, invVal meta.Value) (Row, bool, error) {
	pred := query.NewAnd(
		query.Eq{Column: joinCol, Value: joinVal},
		query.Eq{Column: invCol, Value: invVal},
	)
	clause, args, err := query.Compile(pred)
	if err != nil {
		return nil, false, fmt.Errorf("select link from %s: %w", table, err)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s", columnList(cols), query.QuoteIdent(table), clause)

	rows, err := s.executor(exec).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, false, fmt.Errorf("select link from %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("select link from %s: %w", table, err)
		}
		return nil, false, nil
	}
	row, err := scanRow(rows, cols)
	if err != nil {
		return nil, false, fmt.Errorf("select link from %s: %w", table, err)
	}
	return row, true, nil
}

// SelectJoined reads target rows reachable through a link table: every
// target row whose key appears in the link table's inverse column alongside
// the given join value. Results are ordered by the target key.
func (s *Store) SelectJoined(ctx context.Context, exec Executor, linkTable, joinCol string, joinVal meta.Value, invCol, targetTable string, targetCols []Column, targetKeyCol string) ([]Row, error) {
	joinParam, err := meta.ToParam(joinVal)
	if err != nil {
		return nil, fmt.Errorf("select joined from %s: %w", targetTable, err)
	}

	selected := make([]string, len(targetCols))
	for i, c := range targetCols {
		selected[i] = "t." + query.QuoteIdent(c.Name)
	}
	stmt := fmt.Sprintf(
		"SELECT %s FROM %s t JOIN %s l ON l.%s = t.%s WHERE l.%s = ? ORDER BY t.%s COLLATE BINARY ASC",
		strings.Join(selected, ", "),
		query.QuoteIdent(targetTable),
		query.QuoteIdent(linkTable),
		query.QuoteIdent(invCol),
		query.QuoteIdent(targetKeyCol),
		query.QuoteIdent(joinCol),
		query.QuoteIdent(targetKeyCol),
	)

	rows, err := s.executor(exec).QueryContext(ctx, stmt, joinParam)
	if err != nil {
		return nil, fmt.Errorf("select joined from %s: %w", targetTable, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		row, err := scanRow(rows, targetCols)
		if err != nil {
			return nil, fmt.Errorf("select joined from %s: %w", targetTable, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate joined %s rows: %w", targetTable, err)
	}
	return out, nil
}

// CountRows returns the number of rows in the table.
func (s *Store) CountRows(ctx context.Context, exec Executor, table string) (int64, error) {
	var count int64
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", query.QuoteIdent(table))
	if err := s.executor(exec).QueryRowContext(ctx, stmt).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", table, err)
	}
	return count, nil
}

func columnList(cols []Column) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = query.QuoteIdent(c.Name)
	}
	return strings.Join(quoted, ", ")
}

// scanRow scans the current result row into a Row, converting each column
// through its mapped type.
func scanRow(rows *sql.Rows, cols []Column) (Row, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		v, err := meta.FromColumn(col.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[col.Name] = v
	}
	return row, nil
}
