package cascade

import (
	"context"
	"fmt"
	"strings"
)

// fakeExecutor captures every statement and answers queries through a
// scriptable handler. It reports the Postgres dialect unless overridden.
type fakeExecutor struct {
	dialect Dialect

	execs   []Statement
	queries []Statement

	// onQuery returns the rows for a SELECT/RETURNING statement.
	onQuery func(query string, args []any) ([][]any, error)
	// onExec returns rows affected for a write statement.
	onExec func(query string, args []any) (int64, error)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{dialect: Postgres}
}

func (f *fakeExecutor) Dialect() Dialect { return f.dialect }

func (f *fakeExecutor) Exec(_ context.Context, query string, args ...any) (int64, error) {
	f.execs = append(f.execs, Statement{SQL: query, Args: args})
	if f.onExec != nil {
		return f.onExec(query, args)
	}
	return int64(1), nil
}

func (f *fakeExecutor) Query(_ context.Context, query string, args ...any) (Rows, error) {
	f.queries = append(f.queries, Statement{SQL: query, Args: args})
	if f.onQuery != nil {
		rows, err := f.onQuery(query, args)
		if err != nil {
			return nil, err
		}
		return &fakeRows{rows: rows}, nil
	}
	return &fakeRows{}, nil
}

func (f *fakeExecutor) QueryRow(ctx context.Context, query string, args ...any) Row {
	rows, err := f.Query(ctx, query, args...)
	if err != nil {
		return errRow{err}
	}
	return firstRow{rows}
}

func (f *fakeExecutor) allSQL() []string {
	out := make([]string, 0, len(f.execs)+len(f.queries))
	for _, st := range f.execs {
		out = append(out, st.SQL)
	}
	for _, st := range f.queries {
		out = append(out, st.SQL)
	}
	return out
}

func (f *fakeExecutor) countSQL(prefix string) int {
	n := 0
	for _, q := range f.allSQL() {
		if strings.HasPrefix(q, prefix) {
			n++
		}
	}
	return n
}

type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("fake scan: %d dests for %d values", len(dest), len(row))
	}
	for i, d := range dest {
		p, ok := d.(*any)
		if !ok {
			return fmt.Errorf("fake scan: unsupported dest %T", d)
		}
		*p = row[i]
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     {}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type firstRow struct{ rows Rows }

func (r firstRow) Scan(dest ...any) error {
	defer r.rows.Close()
	if !r.rows.Next() {
		return fmt.Errorf("no rows")
	}
	return r.rows.Scan(dest...)
}
