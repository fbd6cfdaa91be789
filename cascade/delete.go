// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"fmt"
	"time"
)

// DeleteResult reports how many rows one delete operation removed.
type DeleteResult struct {
	Total    int64
	PerTable map[string]int64
}

func (r *DeleteResult) addCount(tableKey string, n int64) {
	if r.PerTable == nil {
		r.PerTable = make(map[string]int64)
	}
	r.PerTable[tableKey] += n
	r.Total += n
}

// Delete removes recs and everything that cascades from them. The whole
// consequence set, including Protect/Restrict violations, is computed and
// validated before the first DELETE, so a returned error means no row was
// removed by this call.
func (s *Store) Delete(ctx context.Context, recs ...*Record) (DeleteResult, error) {
	start := time.Now()
	var result DeleteResult
	if len(recs) == 0 {
		return result, nil
	}

	c := s.newCollector()
	cstart := time.Now()
	err := c.Collect(ctx, recs)
	observeStage(ctx, s.config.Metrics, MetricsOpDelete, MetricsStageDeleteCollect, cstart, len(recs), err)
	if err != nil {
		return result, err
	}

	vstart := time.Now()
	err = c.Validate()
	observeStage(ctx, s.config.Metrics, MetricsOpDelete, MetricsStageDeleteValidate, vstart, len(recs), err)
	if err != nil {
		return result, err
	}

	result, err = c.Execute(ctx)
	observeStage(ctx, s.config.Metrics, MetricsOpDelete, MetricsStageTotal, start, int(result.Total), err)
	return result, err
}

// DeleteWhere deletes all rows of table matching cond (dialect-style
// placeholders; empty cond means the whole table). When nothing observes the
// rows — no delete receivers, no relation edges to act on — the DELETE is
// issued directly without fetching a single row. Otherwise matching rows are
// loaded and handed to the collector.
func (s *Store) DeleteWhere(ctx context.Context, table *Table, cond string, args ...any) (DeleteResult, error) {
	var result DeleteResult
	if _, ok := s.registry.tables[table.Key()]; !ok {
		return result, fmt.Errorf("%w: %s", ErrUnknownTable, table.Key())
	}

	if s.canFastDelete(table) {
		start := time.Now()
		query := "DELETE FROM " + table.QualifiedName()
		if cond != "" {
			query += " WHERE " + cond
		}
		n, err := s.exec.Exec(ctx, query, args...)
		observeStage(ctx, s.config.Metrics, MetricsOpDelete, MetricsStageDeleteFast, start, int(n), err)
		if err != nil {
			return result, fmt.Errorf("fast delete failed on %s: %w", table.Key(), err)
		}
		result.addCount(table.Key(), n)
		s.logger.Debug("Fast delete completed", "table", table.Key(), "rows", n)
		return result, nil
	}

	recs, err := s.fetchWhere(ctx, table, cond, args...)
	if err != nil {
		return result, err
	}
	if len(recs) == 0 {
		return result, nil
	}
	return s.Delete(ctx, recs...)
}

// canFastDelete reports whether deleting rows of table requires no per-row
// work: no connected delete receivers and no incoming edge with an active
// policy.
func (s *Store) canFastDelete(table *Table) bool {
	if s.signals.HasReceivers(PreDelete, table) || s.signals.HasReceivers(PostDelete, table) {
		return false
	}
	for _, edge := range s.registry.IncomingEdges(table) {
		if edge.OnDelete != DoNothing {
			return false
		}
	}
	return true
}

func (s *Store) fetchWhere(ctx context.Context, table *Table, cond string, args ...any) ([]*Record, error) {
	query := "SELECT " + joinColumns(table.Columns) + " FROM " + table.QualifiedName()
	if cond != "" {
		query += " WHERE " + cond
	}
	rows, err := s.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delete fetch failed on %s: %w", table.Key(), err)
	}
	return scanRecords(rows, table)
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// Execute runs the side-effecting phase of a collected plan: SET_NULL /
// SET_DEFAULT updates first, then per-table DELETEs child-before-parent.
// Pre-delete receivers fire before a table's rows are removed, post-delete
// receivers after, so a child's post-delete always precedes the completion
// of its parent's deletion.
func (c *Collector) Execute(ctx context.Context) (DeleteResult, error) {
	var result DeleteResult
	s := c.store
	maxParams := s.exec.Dialect().MaxQueryParams

	ustart := time.Now()
	for _, fu := range c.updates {
		var stmts []Statement
		for _, chunk := range chunkIDs(fu.parentIDs, maxParams-1) {
			ub := s.exec.Dialect().Flavor.NewUpdateBuilder()
			ub.Update(fu.edge.Child.QualifiedName())
			ub.Set(ub.Assign(fu.edge.ChildColumn, fu.value))
			ub.Where(ub.In(fu.edge.ChildColumn, chunk...))
			query, args := ub.Build()
			stmts = append(stmts, Statement{SQL: query, Args: args})
		}
		if _, err := execStatements(ctx, s.exec, stmts); err != nil {
			return result, fmt.Errorf("%s update failed on %s.%s: %w",
				fu.edge.OnDelete, fu.edge.Child.Key(), fu.edge.ChildColumn, err)
		}
	}
	observeStage(ctx, s.config.Metrics, MetricsOpDelete, MetricsStageDeleteUpdates, ustart, len(c.updates), nil)

	dstart := time.Now()
	for _, key := range c.sortedTableKeys() {
		recs := c.data[key]
		if len(recs) == 0 {
			continue
		}
		table := recs[0].Table

		if err := s.signals.send(ctx, PreDelete, recs); err != nil {
			return result, err
		}

		var stmts []Statement
		for _, chunk := range chunkIDs(recordIDs(recs), maxParams) {
			db := s.exec.Dialect().Flavor.NewDeleteBuilder()
			db.DeleteFrom(table.QualifiedName())
			db.Where(db.In(table.PKColumn, chunk...))
			query, args := db.Build()
			stmts = append(stmts, Statement{SQL: query, Args: args})
		}
		n, err := execStatements(ctx, s.exec, stmts)
		if err != nil {
			return result, fmt.Errorf("delete failed on %s: %w", table.Key(), err)
		}
		result.addCount(key, n)

		if err := s.signals.send(ctx, PostDelete, recs); err != nil {
			return result, err
		}
	}
	observeStage(ctx, s.config.Metrics, MetricsOpDelete, MetricsStageDeleteExec, dstart, int(result.Total), nil)

	s.logger.Debug("Delete completed", "total", result.Total, "tables", len(result.PerTable))
	return result, nil
}
