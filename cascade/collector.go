// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"fmt"
	"sort"
)

// Collector computes the full consequence of deleting a seed set of records:
// which rows cascade, which columns get nulled or reset, and which Protect
// or Restrict references block the whole operation. It is an explicit
// worklist over (table, rows) pairs, so deep relation graphs never grow the
// call stack, and it separates the plan from execution so blocking errors
// surface before any row is touched.
type Collector struct {
	store *Store

	data map[string][]*Record         // table key -> collected rows
	seen map[string]map[any]struct{}  // table key -> collected pk set
	keys []string                     // table keys in first-collected order

	updates   []*fieldUpdate
	updateIdx map[*RelationEdge]*fieldUpdate

	protected  []BlockingRef
	restricted []BlockingRef
}

// fieldUpdate is one pending SET_NULL / SET_DEFAULT pass: rewrite
// edge.ChildColumn for every row referencing one of parentIDs.
type fieldUpdate struct {
	edge      *RelationEdge
	value     any
	parentIDs []any
}

type workItem struct {
	table *Table
	recs  []*Record
}

func (s *Store) newCollector() *Collector {
	return &Collector{
		store:     s,
		data:      make(map[string][]*Record),
		seen:      make(map[string]map[any]struct{}),
		updateIdx: make(map[*RelationEdge]*fieldUpdate),
	}
}

// Collect walks the relation graph from seeds. Every seed must carry a
// primary key; a nil or absent PK fails before any statement is issued.
func (c *Collector) Collect(ctx context.Context, seeds []*Record) error {
	var queue []workItem

	byTable := make(map[string][]*Record)
	var order []string
	for _, rec := range seeds {
		if _, ok := rec.PK(); !ok {
			return fmt.Errorf("%w: %s record cannot be deleted", ErrNilPrimaryKey, rec.Table.Key())
		}
		k := rec.Table.Key()
		if _, ok := byTable[k]; !ok {
			order = append(order, k)
		}
		byTable[k] = append(byTable[k], rec)
	}
	for _, k := range order {
		recs := byTable[k]
		fresh := c.add(recs)
		if len(fresh) > 0 {
			queue = append(queue, workItem{table: fresh[0].Table, recs: fresh})
		}
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, edge := range c.store.registry.IncomingEdges(item.table) {
			// Children point at edge.ParentColumn, which is usually but not
			// always the parent PK.
			parentIDs := columnValues(item.recs, edge.ParentColumn)
			if len(parentIDs) == 0 {
				continue
			}
			switch edge.OnDelete {
			case DoNothing:
				continue

			case Cascade:
				children, err := c.fetchReferencing(ctx, edge, parentIDs)
				if err != nil {
					return err
				}
				fresh := c.add(children)
				if len(fresh) > 0 {
					queue = append(queue, workItem{table: edge.Child, recs: fresh})
				}

			case SetNull:
				c.addFieldUpdate(edge, nil, parentIDs)

			case SetDefault:
				def, ok := edge.Child.Defaults[edge.ChildColumn]
				if !ok {
					return fmt.Errorf("%w: %s.%s", ErrMissingDefault, edge.Child.Key(), edge.ChildColumn)
				}
				c.addFieldUpdate(edge, def, parentIDs)

			case Protect, Restrict:
				ids, err := c.fetchReferencingIDs(ctx, edge, parentIDs)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					continue
				}
				ref := BlockingRef{Edge: edge, ChildIDs: ids}
				if edge.OnDelete == Protect {
					c.protected = append(c.protected, ref)
				} else {
					c.restricted = append(c.restricted, ref)
				}
			}
		}
	}
	return nil
}

// Validate raises blocking references. Protect always blocks. Restrict
// forgives blockers that were themselves collected through another path of
// this same operation (the diamond case).
func (c *Collector) Validate() error {
	if len(c.protected) > 0 {
		return &ProtectedError{Refs: c.protected}
	}
	var remaining []BlockingRef
	for _, ref := range c.restricted {
		collected := c.seen[ref.Edge.Child.Key()]
		var blockers []any
		for _, id := range ref.ChildIDs {
			if _, ok := collected[id]; !ok {
				blockers = append(blockers, id)
			}
		}
		if len(blockers) > 0 {
			remaining = append(remaining, BlockingRef{Edge: ref.Edge, ChildIDs: blockers})
		}
	}
	if len(remaining) > 0 {
		return &RestrictedError{Refs: remaining}
	}
	return nil
}

// add records rows not seen before and returns only the fresh ones.
// Deduplication is what terminates traversal on cyclic and self-referential
// relation graphs.
func (c *Collector) add(recs []*Record) []*Record {
	if len(recs) == 0 {
		return nil
	}
	k := recs[0].Table.Key()
	pks := c.seen[k]
	if pks == nil {
		pks = make(map[any]struct{})
		c.seen[k] = pks
		c.keys = append(c.keys, k)
	}
	fresh := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		pk, ok := rec.PK()
		if !ok {
			continue
		}
		if _, dup := pks[pk]; dup {
			continue
		}
		pks[pk] = struct{}{}
		c.data[k] = append(c.data[k], rec)
		fresh = append(fresh, rec)
	}
	return fresh
}

func (c *Collector) addFieldUpdate(edge *RelationEdge, value any, parentIDs []any) {
	if fu, ok := c.updateIdx[edge]; ok {
		fu.parentIDs = append(fu.parentIDs, parentIDs...)
		return
	}
	fu := &fieldUpdate{edge: edge, value: value, parentIDs: append([]any(nil), parentIDs...)}
	c.updateIdx[edge] = fu
	c.updates = append(c.updates, fu)
}

// fetchReferencing loads full child rows referencing parentIDs, in bounded
// id chunks.
func (c *Collector) fetchReferencing(ctx context.Context, edge *RelationEdge, parentIDs []any) ([]*Record, error) {
	child := edge.Child
	var out []*Record
	for _, chunk := range chunkIDs(parentIDs, c.store.config.FetchChunkSize) {
		sb := c.store.exec.Dialect().Flavor.NewSelectBuilder()
		sb.Select(child.Columns...)
		sb.From(child.QualifiedName())
		sb.Where(sb.In(edge.ChildColumn, chunk...))
		query, args := sb.Build()

		rows, err := c.store.exec.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("cascade fetch failed on %s: %w", child.Key(), err)
		}
		recs, err := scanRecords(rows, child)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// fetchReferencingIDs loads only the child primary keys referencing
// parentIDs; enough to report blockers without pulling whole rows.
func (c *Collector) fetchReferencingIDs(ctx context.Context, edge *RelationEdge, parentIDs []any) ([]any, error) {
	child := edge.Child
	var out []any
	for _, chunk := range chunkIDs(parentIDs, c.store.config.FetchChunkSize) {
		sb := c.store.exec.Dialect().Flavor.NewSelectBuilder()
		sb.Select(child.PKColumn)
		sb.From(child.QualifiedName())
		sb.Where(sb.In(edge.ChildColumn, chunk...))
		query, args := sb.Build()

		rows, err := c.store.exec.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("reference check failed on %s: %w", child.Key(), err)
		}
		for rows.Next() {
			var id any
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, id)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sortedTableKeys orders collected tables child-before-parent so each
// table's rows are gone before the rows they reference. Ties and cycles fall
// back to first-collected order, matching how discovery tolerates cyclic
// schemas.
func (c *Collector) sortedTableKeys() []string {
	// parent key -> child keys that must be deleted first
	blockers := make(map[string]map[string]struct{}, len(c.keys))
	for _, k := range c.keys {
		blockers[k] = make(map[string]struct{})
	}
	for _, edge := range c.store.registry.edges {
		childKey := edge.Child.Key()
		parentKey := edge.Parent.Key()
		if childKey == parentKey {
			continue
		}
		if _, ok := blockers[parentKey]; !ok {
			continue
		}
		if _, ok := blockers[childKey]; !ok {
			continue
		}
		blockers[parentKey][childKey] = struct{}{}
	}

	pos := make(map[string]int, len(c.keys))
	for i, k := range c.keys {
		pos[k] = i
	}

	var out []string
	done := make(map[string]struct{}, len(c.keys))
	pending := append([]string(nil), c.keys...)
	for len(pending) > 0 {
		var ready []string
		var rest []string
		for _, k := range pending {
			ok := true
			for dep := range blockers[k] {
				if _, deleted := done[dep]; !deleted {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, k)
			} else {
				rest = append(rest, k)
			}
		}
		if len(ready) == 0 {
			// Cycle: keep first-collected order for the remainder.
			sort.Slice(rest, func(i, j int) bool { return pos[rest[i]] < pos[rest[j]] })
			out = append(out, rest...)
			break
		}
		sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
		for _, k := range ready {
			out = append(out, k)
			done[k] = struct{}{}
		}
		pending = rest
	}
	return out
}

func recordIDs(recs []*Record) []any {
	ids := make([]any, 0, len(recs))
	for _, rec := range recs {
		if pk, ok := rec.PK(); ok {
			ids = append(ids, pk)
		}
	}
	return ids
}

// columnValues extracts non-nil values of col across recs.
func columnValues(recs []*Record, col string) []any {
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		if v, ok := rec.Values[col]; ok && v != nil {
			out = append(out, v)
		}
	}
	return out
}

// scanRecords materializes generic rows using the table's column order.
func scanRecords(rows Rows, table *Table) ([]*Record, error) {
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		dests := make([]any, len(table.Columns))
		for i := range dests {
			dests[i] = new(any)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		values := make(map[string]any, len(table.Columns))
		for i, col := range table.Columns {
			values[col] = *(dests[i].(*any))
		}
		out = append(out, NewRecord(table, values))
	}
	return out, rows.Err()
}
