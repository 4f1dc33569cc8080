// Package store provides the SQLite-backed row storage the engine reads
// from and flushes into: table creation from entity metadata, row-level
// reads and writes, and transaction scoping. It deals only in tables,
// columns, and typed scalar values; entity semantics live above it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"loom/internal/meta"
)

// Executor is the subset of database/sql used by row operations. Both
// *sql.DB and *sql.Tx satisfy it, so the same operation runs standalone or
// inside a flush transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Column names one table column and its mapped type, which drives scan
// conversion.
type Column struct {
	Name string
	Type meta.ColumnType
}

// Row is one storage row keyed by column name.
type Row map[string]meta.Value

// Store wraps a SQLite database handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens the SQLite database at path, creating it if needed. The path
// ":memory:" opens a private in-memory database. The connection enables WAL
// journaling, NORMAL synchronous mode, a 5 second busy timeout, and foreign
// key enforcement. The pool is capped at one connection: the engine is
// single-writer and a second connection would only introduce lock contention.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers that need to run statements
// outside the row operations, such as schema inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunInTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	done := false
	defer func() {
		if !done {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	done = true
	return nil
}

// executor falls back to the store's own handle when no transaction is
// supplied.
func (s *Store) executor(exec Executor) Executor {
	if exec != nil {
		return exec
	}
	return s.db
}
