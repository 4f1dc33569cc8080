package store

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/meta"
	"loom/internal/query"
)

// InsertRow inserts one row and returns the key SQLite assigned to it. For
// tables without an auto-generated key the return value is the rowid and
// callers ignore it.
func (s *Store) InsertRow(ctx context.Context, exec Executor, table string, cols []string, vals []meta.Value) (int64, error) {
	if len(cols) != len(vals) {
		return 0, fmt.Errorf("insert into %s: %d columns with %d values", table, len(cols), len(vals))
	}
	args := make([]any, len(vals))
	for i, v := range vals {
		param, err := meta.ToParam(v)
		if err != nil {
			return 0, fmt.Errorf("insert into %s column %s: %w", table, cols[i], err)
		}
		args[i] = param
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", query.QuoteIdent(table))
	} else {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = query.QuoteIdent(c)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			query.QuoteIdent(table), strings.Join(quoted, ", "), placeholders)
	}

	res, err := s.executor(exec).ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: last insert id: %w", table, err)
	}
	s.logger.Debug("inserted row", "table", table, "rowid", id)
	return id, nil
}

// UpdateRow updates the named columns of the row identified by keyCol and
// returns the number of rows affected.
func (s *Store) UpdateRow(ctx context.Context, exec Executor, table string, setCols []string, setVals []meta.Value, keyCol string, key meta.Value) (int64, error) {
	if len(setCols) == 0 {
		return 0, fmt.Errorf("update %s: no columns to set", table)
	}
	if len(setCols) != len(setVals) {
		return 0, fmt.Errorf("update %s: %d columns with %d values", table, len(setCols), len(setVals))
	}

	assignments := make([]string, len(setCols))
	args := make([]any, 0, len(setVals)+1)
	for i, col := range setCols {
		assignments[i] = query.QuoteIdent(col) + " = ?"
		param, err := meta.ToParam(setVals[i])
		if err != nil {
			return 0, fmt.Errorf("update %s column %s: %w", table, col, err)
		}
		args = append(args, param)
	}
	keyParam, err := meta.ToParam(key)
	if err != nil {
		return 0, fmt.Errorf("update %s: key: %w", table, err)
	}
	args = append(args, keyParam)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		query.QuoteIdent(table), strings.Join(assignments, ", "), query.QuoteIdent(keyCol))
	res, err := s.executor(exec).ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s: rows affected: %w", table, err)
	}
	s.logger.Debug("updated row", "table", table, "columns", len(setCols), "affected", affected)
	return affected, nil
}

// DeleteRow deletes the row identified by keyCol and returns the number of
// rows affected. Deleting an absent row is not an error; it reports zero.
func (s *Store) DeleteRow(ctx context.Context, exec Executor, table, keyCol string, key meta.Value) (int64, error) {
	keyParam, err := meta.ToParam(key)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: key: %w", table, err)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", query.QuoteIdent(table), query.QuoteIdent(keyCol))
	res, err := s.executor(exec).ExecContext(ctx, stmt, keyParam)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: rows affected: %w", table, err)
	}
	s.logger.Debug("deleted row", "table", table, "affected", affected)
	return affected, nil
}

// DeleteWhere deletes every row matching the predicate and returns the
// number of rows affected.
func (s *Store) DeleteWhere(ctx context.Context, exec Executor, table string, pred query.Predicate) (int64, error) {
	clause, args, err := query.Compile(pred)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", query.QuoteIdent(table), clause)
	res, err := s.executor(exec).ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: rows affected: %w", table, err)
	}
	s.logger.Debug("deleted rows", "table", table, "affected", affected)
	return affected, nil
}
