// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the narrow database surface the library issues statements
// through. It is satisfied by the pgx adapter (pool or transaction) and the
// database/sql adapter, and is small enough to fake in tests.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Dialect() Dialect
}

// Rows is a minimal result iterator.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row is a single-row result.
type Row interface {
	Scan(dest ...any) error
}

// Statement is one pending SQL statement with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// BatchExecutor is implemented by executors that can apply a group of
// statements in a single round trip. The pgx adapter routes this through
// pgx.Batch; other executors fall back to sequential Exec.
type BatchExecutor interface {
	ExecBatch(ctx context.Context, stmts []Statement) (int64, error)
}

// execStatements applies stmts through the batch fast path when the executor
// offers one, returning the total rows affected.
func execStatements(ctx context.Context, exec Executor, stmts []Statement) (int64, error) {
	if len(stmts) == 0 {
		return 0, nil
	}
	if be, ok := exec.(BatchExecutor); ok {
		return be.ExecBatch(ctx, stmts)
	}
	var total int64
	for _, st := range stmts {
		n, err := exec.Exec(ctx, st.SQL, st.Args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// PgxQuerier is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and
// pgx.Tx, so a store can run against a pool or inside a caller's
// transaction without changing adapters.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PgxExecutor adapts a pgx querier to the Executor interface.
type PgxExecutor struct {
	q PgxQuerier
}

// NewPgxExecutor wraps a pgx pool, connection or transaction.
func NewPgxExecutor(q PgxQuerier) *PgxExecutor {
	return &PgxExecutor{q: q}
}

func (e *PgxExecutor) Dialect() Dialect { return Postgres }

func (e *PgxExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e *PgxExecutor) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := e.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows}, nil
}

func (e *PgxExecutor) QueryRow(ctx context.Context, query string, args ...any) Row {
	return e.q.QueryRow(ctx, query, args...)
}

// ExecBatch queues all statements into one pgx.Batch round trip.
func (e *PgxExecutor) ExecBatch(ctx context.Context, stmts []Statement) (int64, error) {
	b := &pgx.Batch{}
	for _, st := range stmts {
		b.Queue(st.SQL, st.Args...)
	}
	br := e.q.SendBatch(ctx, b)
	var total int64
	for range stmts {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, br.Close()
}

type pgxRows struct {
	rows pgx.Rows
}

func (r pgxRows) Next() bool             { return r.rows.Next() }
func (r pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgxRows) Err() error             { return r.rows.Err() }
func (r pgxRows) Close()                 { r.rows.Close() }

// SQLQuerier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type SQLQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLExecutor adapts database/sql to the Executor interface. Used with
// mattn/go-sqlite3 for embedded deployments.
type SQLExecutor struct {
	q       SQLQuerier
	dialect Dialect
}

// NewSQLExecutor wraps a *sql.DB or *sql.Tx with the given dialect.
func NewSQLExecutor(q SQLQuerier, dialect Dialect) *SQLExecutor {
	return &SQLExecutor{q: q, dialect: dialect}
}

func (e *SQLExecutor) Dialect() Dialect { return e.dialect }

func (e *SQLExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (e *SQLExecutor) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (e *SQLExecutor) QueryRow(ctx context.Context, query string, args ...any) Row {
	return e.q.QueryRowContext(ctx, query, args...)
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return r.rows.Err() }
func (r sqlRows) Close()                 { _ = r.rows.Close() }
