// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PrefetchCache holds a previously loaded id set for one relation on one
// in-memory instance. Mutating operations invalidate it so stale reads are
// impossible.
type PrefetchCache struct {
	mu    sync.Mutex
	ids   []any
	valid bool
}

// Store caches ids as the current relation contents.
func (c *PrefetchCache) Store(ids []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append([]any(nil), ids...)
	c.valid = true
}

// Load returns the cached ids, and false when the cache is invalid.
func (c *PrefetchCache) Load() ([]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return nil, false
	}
	return append([]any(nil), c.ids...), true
}

// Invalidate drops the cached contents.
func (c *PrefetchCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = nil
	c.valid = false
}

// RelationManager mediates add/remove/set/clear on the join table between
// one source row and its targets.
type RelationManager struct {
	store    *Store
	rel      *ManyToManyRel
	sourceID any

	throughDefaults map[string]any
	cache           *PrefetchCache
}

// M2M returns a relation manager bound to the source row sourceID.
func (s *Store) M2M(rel *ManyToManyRel, sourceID any) *RelationManager {
	return &RelationManager{store: s, rel: rel, sourceID: sourceID}
}

// WithThroughDefaults sets extra join-table column values applied on Add.
func (m *RelationManager) WithThroughDefaults(defaults map[string]any) *RelationManager {
	m.throughDefaults = defaults
	return m
}

// BindCache attaches an instance-side prefetch cache that mutating
// operations will invalidate.
func (m *RelationManager) BindCache(cache *PrefetchCache) *RelationManager {
	m.cache = cache
	return m
}

// IDs returns the target ids currently linked to the source, reading the
// bound cache when it is valid.
func (m *RelationManager) IDs(ctx context.Context) ([]any, error) {
	if m.cache != nil {
		if ids, ok := m.cache.Load(); ok {
			return ids, nil
		}
	}
	ids, err := m.fetchIDs(ctx)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Store(ids)
	}
	return ids, nil
}

func (m *RelationManager) fetchIDs(ctx context.Context) ([]any, error) {
	sb := m.store.exec.Dialect().Flavor.NewSelectBuilder()
	sb.Select(m.rel.TargetColumn)
	sb.From(m.rel.JoinTable.QualifiedName())
	sb.Where(sb.Equal(m.rel.SourceColumn, m.sourceID))
	query, args := sb.Build()

	rows, err := m.store.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("m2m fetch failed on %s: %w", m.rel.JoinTable.Key(), err)
	}
	defer rows.Close()
	var ids []any
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Add links targetIDs to the source. On dialects with ignore-conflicts
// support the missing-id computation is folded into a single
// insert-or-ignore round trip; otherwise existing links are read first and
// only the missing ones inserted.
func (m *RelationManager) Add(ctx context.Context, targetIDs ...any) error {
	start := time.Now()
	ids := dedupeIDs(targetIDs)
	if len(ids) == 0 {
		return nil
	}

	if !m.store.exec.Dialect().SupportsIgnoreConflicts {
		existing, err := m.fetchIDs(ctx)
		if err != nil {
			return err
		}
		ids = subtractIDs(ids, existing)
		if len(ids) == 0 {
			return nil
		}
	}

	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		values := map[string]any{
			m.rel.SourceColumn: m.sourceID,
			m.rel.TargetColumn: id,
		}
		for col, v := range m.throughDefaults {
			values[col] = v
		}
		recs = append(recs, NewRecord(m.rel.JoinTable, values))
	}

	opts := BulkInsertOptions{IgnoreConflicts: m.store.exec.Dialect().SupportsIgnoreConflicts}
	_, err := m.store.BulkInsert(ctx, recs, opts)
	observeStage(ctx, m.store.config.Metrics, MetricsOpM2M, MetricsStageTotal, start, len(ids), err)
	if err != nil {
		return err
	}
	m.invalidate()
	return nil
}

// Remove unlinks targetIDs from the source.
func (m *RelationManager) Remove(ctx context.Context, targetIDs ...any) error {
	ids := dedupeIDs(targetIDs)
	if len(ids) == 0 {
		return nil
	}
	maxParams := m.store.exec.Dialect().MaxQueryParams
	var stmts []Statement
	for _, chunk := range chunkIDs(ids, maxParams-1) {
		db := m.store.exec.Dialect().Flavor.NewDeleteBuilder()
		db.DeleteFrom(m.rel.JoinTable.QualifiedName())
		db.Where(
			db.Equal(m.rel.SourceColumn, m.sourceID),
			db.In(m.rel.TargetColumn, chunk...),
		)
		query, args := db.Build()
		stmts = append(stmts, Statement{SQL: query, Args: args})
	}
	if _, err := execStatements(ctx, m.store.exec, stmts); err != nil {
		return fmt.Errorf("m2m remove failed on %s: %w", m.rel.JoinTable.Key(), err)
	}
	m.invalidate()
	return nil
}

// Clear unlinks every target from the source.
func (m *RelationManager) Clear(ctx context.Context) error {
	db := m.store.exec.Dialect().Flavor.NewDeleteBuilder()
	db.DeleteFrom(m.rel.JoinTable.QualifiedName())
	db.Where(db.Equal(m.rel.SourceColumn, m.sourceID))
	query, args := db.Build()
	if _, err := m.store.exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("m2m clear failed on %s: %w", m.rel.JoinTable.Key(), err)
	}
	m.invalidate()
	return nil
}

// Set makes targetIDs the exact relation contents. With clearFirst the join
// rows are dropped and re-added wholesale; otherwise only the symmetric
// difference against the current contents is written. Set with no ids is
// equivalent to Clear.
func (m *RelationManager) Set(ctx context.Context, targetIDs []any, clearFirst bool) error {
	ids := dedupeIDs(targetIDs)

	if clearFirst {
		if err := m.Clear(ctx); err != nil {
			return err
		}
		return m.Add(ctx, ids...)
	}

	existing, err := m.fetchIDs(ctx)
	if err != nil {
		return err
	}
	toAdd := subtractIDs(ids, existing)
	toRemove := subtractIDs(existing, ids)

	if len(toRemove) > 0 {
		if err := m.Remove(ctx, toRemove...); err != nil {
			return err
		}
	}
	if len(toAdd) > 0 {
		if err := m.Add(ctx, toAdd...); err != nil {
			return err
		}
	}
	m.invalidate()
	return nil
}

func (m *RelationManager) invalidate() {
	if m.cache != nil {
		m.cache.Invalidate()
	}
}

func dedupeIDs(ids []any) []any {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[any]struct{}, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if id == nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func subtractIDs(a, b []any) []any {
	if len(a) == 0 {
		return nil
	}
	drop := make(map[any]struct{}, len(b))
	for _, id := range b {
		drop[id] = struct{}{}
	}
	var out []any
	for _, id := range a {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
