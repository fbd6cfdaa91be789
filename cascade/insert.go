// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"fmt"
	"time"
)

// BulkInsertResult summarizes one BulkInsert call.
type BulkInsertResult struct {
	// RowsAffected counts inserted (or upserted) rows as reported by the
	// database. Under ignore-conflicts it excludes skipped duplicates.
	RowsAffected int64

	// Batches is the number of INSERT statements issued.
	Batches int

	// FastPath reports whether generated keys were read back via RETURNING.
	FastPath bool
}

// BulkInsert writes recs (all for one table) in as few statements as the
// dialect's parameter limit allows. Records that already carry a primary key
// are inserted with it; the rest receive generated keys back onto the record
// when the fast path is available.
//
// All option validation happens before the first statement, so an error from
// a misconfigured call means nothing was written.
func (s *Store) BulkInsert(ctx context.Context, recs []*Record, opts BulkInsertOptions) (*BulkInsertResult, error) {
	start := time.Now()
	if len(recs) == 0 {
		return &BulkInsertResult{}, nil
	}

	table := recs[0].Table
	vstart := time.Now()
	action, err := s.validateBulkInsert(table, recs, opts)
	observeStage(ctx, s.config.Metrics, MetricsOpBulkInsert, MetricsStageInsertValidate, vstart, len(recs), err)
	if err != nil {
		return nil, err
	}

	dialect := s.exec.Dialect()

	// Fast path: read generated keys back in the same statement. Connected
	// save receivers force the slow path because they observe every record.
	fast := dialect.SupportsReturning &&
		!s.signals.HasReceivers(PreSave, table) &&
		!s.signals.HasReceivers(PostSave, table)
	// Ignore-conflicts drops duplicate rows from the result set, which
	// breaks positional assignment of returned keys.
	returning := fast && action.mode != conflictIgnore

	withPK := make([]*Record, 0, len(recs))
	withoutPK := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if _, ok := rec.PK(); ok {
			withPK = append(withPK, rec)
		} else {
			withoutPK = append(withoutPK, rec)
		}
	}

	override := opts.BatchSize
	if override <= 0 {
		override = s.config.MaxBatchSize
	}

	result := &BulkInsertResult{FastPath: returning}
	pstart := time.Now()
	plan := make([]insertGroup, 0, 2)
	if len(withPK) > 0 {
		plan = append(plan, insertGroup{recs: withPK, cols: table.Columns, readPKs: false})
	}
	if len(withoutPK) > 0 {
		cols := make([]string, 0, len(table.Columns)-1)
		for _, c := range table.Columns {
			if c != table.PKColumn {
				cols = append(cols, c)
			}
		}
		plan = append(plan, insertGroup{recs: withoutPK, cols: cols, readPKs: returning})
	}
	observeStage(ctx, s.config.Metrics, MetricsOpBulkInsert, MetricsStageInsertPlan, pstart, len(plan), nil)

	for _, group := range plan {
		size := batchSize(len(group.cols), dialect.MaxQueryParams, override)
		for _, br := range splitBatches(len(group.recs), size) {
			batch := group.recs[br.Start:br.End]
			n, err := s.insertBatch(ctx, table, batch, group.cols, action, group.readPKs)
			if err != nil {
				return nil, err
			}
			result.RowsAffected += n
			result.Batches++
		}
	}

	stage := MetricsStageInsertSlow
	if returning {
		stage = MetricsStageInsertFast
	}
	observeStage(ctx, s.config.Metrics, MetricsOpBulkInsert, stage, start, len(recs), nil)
	s.logger.Debug("Bulk insert completed",
		"table", table.Key(), "rows", len(recs),
		"batches", result.Batches, "fast_path", returning,
		"affected", result.RowsAffected)
	return result, nil
}

type insertGroup struct {
	recs    []*Record
	cols    []string
	readPKs bool
}

// validateBulkInsert runs every pre-statement check: uniform table, known
// columns, and the conflict option rules.
func (s *Store) validateBulkInsert(table *Table, recs []*Record, opts BulkInsertOptions) (conflictAction, error) {
	if _, ok := s.registry.tables[table.Key()]; !ok {
		return conflictAction{}, fmt.Errorf("%w: %s", ErrUnknownTable, table.Key())
	}
	for _, rec := range recs {
		if rec.Table.Key() != table.Key() {
			return conflictAction{}, fmt.Errorf("%w: %s and %s in one call", ErrMixedTables, table.Key(), rec.Table.Key())
		}
		for col := range rec.Values {
			if !table.HasColumn(col) {
				return conflictAction{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Key(), col)
			}
		}
	}
	return resolveConflictAction(s.registry, s.exec.Dialect(), table, opts)
}

// insertBatch issues one INSERT for batch. When readPKs is set the statement
// carries RETURNING and generated keys are assigned positionally.
func (s *Store) insertBatch(ctx context.Context, table *Table, batch []*Record, cols []string, action conflictAction, readPKs bool) (int64, error) {
	if err := s.signals.send(ctx, PreSave, batch); err != nil {
		return 0, err
	}

	ib := s.exec.Dialect().Flavor.NewInsertBuilder()
	ib.InsertInto(table.QualifiedName())
	ib.Cols(cols...)
	for _, rec := range batch {
		vals := make([]any, len(cols))
		for i, col := range cols {
			vals[i] = rec.columnValue(col)
		}
		ib.Values(vals...)
	}
	query, args := ib.Build()
	query += action.suffix()

	var affected int64
	if readPKs {
		query += " RETURNING " + table.PKColumn
		rows, err := s.exec.Query(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("bulk insert failed on %s: %w", table.Key(), err)
		}
		defer rows.Close()
		i := 0
		for rows.Next() {
			var pk any
			if err := rows.Scan(&pk); err != nil {
				return affected, err
			}
			if i < len(batch) {
				batch[i].SetPK(pk)
			}
			i++
			affected++
		}
		if err := rows.Err(); err != nil {
			return affected, err
		}
	} else {
		n, err := s.exec.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("bulk insert failed on %s: %w", table.Key(), err)
		}
		affected = n
	}

	if err := s.signals.send(ctx, PostSave, batch); err != nil {
		return affected, err
	}
	return affected, nil
}

// columnValue resolves the value written for col: the record's value when
// present, the table default otherwise, NULL as a last resort.
func (r *Record) columnValue(col string) any {
	if v, ok := r.Values[col]; ok {
		return v
	}
	if v, ok := r.Table.Defaults[col]; ok {
		return v
	}
	return nil
}
