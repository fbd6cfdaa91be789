// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SchemaDiscovery builds a relation Registry from a live PostgreSQL
// database: tables, primary keys, unique constraints, and foreign keys with
// their declared ON DELETE rules.
type SchemaDiscovery struct {
	q      PgxQuerier
	logger *slog.Logger
}

// NewSchemaDiscovery creates a discovery instance over a pgx pool or
// connection.
func NewSchemaDiscovery(q PgxQuerier, logger *slog.Logger) *SchemaDiscovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaDiscovery{q: q, logger: logger}
}

// DiscoveryOptions selects the tables to introspect and optional policy
// overrides applied after discovery.
type DiscoveryOptions struct {
	// Tables lists "schema.table" (or bare "table", defaulting to public).
	Tables []string

	// PolicyOverrides rebinds the policy of discovered edges, keyed by
	// "schema.table.column" of the child side. This is how application-level
	// Protect and Restrict are layered onto SQL rules.
	PolicyOverrides map[string]OnDelete
}

// DiscoverRegistry introspects the selected tables and returns a populated
// Registry.
//
// SQL delete rules map onto collector policies: CASCADE, SET NULL and
// RESTRICT keep their meaning; NO ACTION becomes DoNothing; SET DEFAULT also
// becomes DoNothing because the database applies the default itself and the
// collector has no Go-side value to write.
func (sd *SchemaDiscovery) DiscoverRegistry(ctx context.Context, opts DiscoveryOptions) (*Registry, error) {
	schemas, tables, err := splitTableKeys(opts.Tables)
	if err != nil {
		return nil, err
	}

	columns, err := sd.getColumns(ctx, schemas, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	pks, err := sd.getPrimaryKeys(ctx, schemas, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}
	uniques, err := sd.getUniqueConstraints(ctx, schemas, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique constraints: %w", err)
	}
	fks, err := sd.getForeignKeys(ctx, schemas, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}

	reg := NewRegistry()
	for i := range schemas {
		k := Key(schemas[i], tables[i])
		cols := columns[k]
		if len(cols) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTable, k)
		}
		pk := pks[k]
		if pk == "" {
			sd.logger.Warn("Skipping table without single-column primary key", "table", k)
			continue
		}
		t := &Table{
			Schema:   schemas[i],
			Name:     tables[i],
			PKColumn: pk,
			Columns:  cols,
			Uniques:  uniques[k],
		}
		if err := reg.RegisterTable(t); err != nil {
			return nil, err
		}
	}

	var registered int
	for _, fk := range fks {
		child, ok := reg.Table(fk.childSchema, fk.childTable)
		if !ok {
			continue
		}
		parent, ok := reg.Table(fk.parentSchema, fk.parentTable)
		if !ok {
			sd.logger.Debug("FK references table outside discovery scope",
				"constraint", fk.constraint, "parent", Key(fk.parentSchema, fk.parentTable))
			continue
		}
		edge := &RelationEdge{
			ConstraintName: fk.constraint,
			Child:          child,
			ChildColumn:    fk.childColumn,
			Parent:         parent,
			ParentColumn:   fk.parentColumn,
			OnDelete:       policyFromDeleteRule(fk.deleteRule),
		}
		if err := reg.RegisterEdge(edge); err != nil {
			return nil, err
		}
		registered++
	}

	for key, policy := range opts.PolicyOverrides {
		schema, table, column, err := splitColumnKey(key)
		if err != nil {
			return nil, err
		}
		t, ok := reg.Table(schema, table)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTable, Key(schema, table))
		}
		if err := reg.SetOnDelete(t, column, policy); err != nil {
			return nil, err
		}
	}

	sd.logger.Info("Schema discovery completed",
		"tables", len(reg.tables), "edges", registered, "overrides", len(opts.PolicyOverrides))
	return reg, nil
}

type discoveredFK struct {
	constraint   string
	childSchema  string
	childTable   string
	childColumn  string
	parentSchema string
	parentTable  string
	parentColumn string
	deleteRule   string
}

func policyFromDeleteRule(rule string) OnDelete {
	switch strings.ToUpper(strings.TrimSpace(rule)) {
	case "CASCADE":
		return Cascade
	case "SET NULL":
		return SetNull
	case "RESTRICT":
		return Restrict
	default:
		// NO ACTION and SET DEFAULT are enforced by the database itself.
		return DoNothing
	}
}

func (sd *SchemaDiscovery) getColumns(ctx context.Context, schemas, tables []string) (map[string][]string, error) {
	const q = `
WITH t AS (
  SELECT * FROM unnest($1::text[], $2::text[]) AS x(schema_name, table_name)
)
SELECT c.table_schema, c.table_name, c.column_name
FROM information_schema.columns c
JOIN t ON t.schema_name = c.table_schema AND t.table_name = c.table_name
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	rows, err := sd.q.Query(ctx, q, schemas, tables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, err
		}
		k := Key(schema, table)
		out[k] = append(out[k], strings.ToLower(column))
	}
	return out, rows.Err()
}

func (sd *SchemaDiscovery) getPrimaryKeys(ctx context.Context, schemas, tables []string) (map[string]string, error) {
	const q = `
WITH t AS (
  SELECT * FROM unnest($1::text[], $2::text[]) AS x(schema_name, table_name)
)
SELECT tc.table_schema, tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
JOIN t ON t.schema_name = tc.table_schema AND t.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
ORDER BY kcu.ordinal_position`

	rows, err := sd.q.Query(ctx, q, schemas, tables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	composite := make(map[string]bool)
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, err
		}
		k := Key(schema, table)
		if _, ok := out[k]; ok {
			composite[k] = true
			continue
		}
		out[k] = strings.ToLower(column)
	}
	// Composite PKs are out of scope for the collector's id-based plans.
	for k := range composite {
		delete(out, k)
	}
	return out, rows.Err()
}

func (sd *SchemaDiscovery) getUniqueConstraints(ctx context.Context, schemas, tables []string) (map[string][]UniqueConstraint, error) {
	const q = `
WITH t AS (
  SELECT * FROM unnest($1::text[], $2::text[]) AS x(schema_name, table_name)
)
SELECT tc.table_schema, tc.table_name, tc.constraint_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
JOIN t ON t.schema_name = tc.table_schema AND t.table_name = tc.table_name
WHERE tc.constraint_type = 'UNIQUE'
ORDER BY tc.constraint_name, kcu.ordinal_position`

	rows, err := sd.q.Query(ctx, q, schemas, tables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byConstraint := make(map[string]*UniqueConstraint)
	tableOf := make(map[string]string)
	var names []string
	for rows.Next() {
		var schema, table, constraint, column string
		if err := rows.Scan(&schema, &table, &constraint, &column); err != nil {
			return nil, err
		}
		uc, ok := byConstraint[constraint]
		if !ok {
			uc = &UniqueConstraint{Name: constraint}
			byConstraint[constraint] = uc
			tableOf[constraint] = Key(schema, table)
			names = append(names, constraint)
		}
		uc.Columns = append(uc.Columns, strings.ToLower(column))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string][]UniqueConstraint)
	for _, name := range names {
		k := tableOf[name]
		out[k] = append(out[k], *byConstraint[name])
	}
	return out, nil
}

// getForeignKeys reads single-column FK constraints with their delete rules.
// Composite FKs are skipped; the collector plans by single ids.
func (sd *SchemaDiscovery) getForeignKeys(ctx context.Context, schemas, tables []string) ([]discoveredFK, error) {
	const q = `
WITH t AS (
  SELECT * FROM unnest($1::text[], $2::text[]) AS x(schema_name, table_name)
)
SELECT
  tc.constraint_name,
  tc.table_schema,
  tc.table_name,
  kcu.column_name,
  ccu.table_schema AS ref_schema,
  ccu.table_name   AS ref_table,
  ccu.column_name  AS ref_column,
  COALESCE(rc.delete_rule, 'NO ACTION') AS delete_rule,
  (SELECT count(*) FROM information_schema.key_column_usage k2
    WHERE k2.constraint_name = tc.constraint_name
      AND k2.table_schema = tc.table_schema) AS col_count
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name
 AND ccu.table_schema = tc.table_schema
LEFT JOIN information_schema.referential_constraints rc
  ON rc.constraint_name = tc.constraint_name
 AND rc.constraint_schema = tc.table_schema
JOIN t ON t.schema_name = tc.table_schema AND t.table_name = tc.table_name
WHERE tc.constraint_type = 'FOREIGN KEY'
ORDER BY tc.table_schema, tc.table_name, tc.constraint_name`

	rows, err := sd.q.Query(ctx, q, schemas, tables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []discoveredFK
	for rows.Next() {
		var fk discoveredFK
		var colCount int64
		if err := rows.Scan(
			&fk.constraint,
			&fk.childSchema,
			&fk.childTable,
			&fk.childColumn,
			&fk.parentSchema,
			&fk.parentTable,
			&fk.parentColumn,
			&fk.deleteRule,
			&colCount,
		); err != nil {
			return nil, err
		}
		if colCount > 1 {
			sd.logger.Warn("Skipping composite foreign key", "constraint", fk.constraint,
				"table", Key(fk.childSchema, fk.childTable))
			continue
		}
		fk.childColumn = strings.ToLower(fk.childColumn)
		fk.parentColumn = strings.ToLower(fk.parentColumn)
		out = append(out, fk)
	}
	return out, rows.Err()
}

func splitTableKeys(keys []string) (schemas []string, tables []string, err error) {
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("%w: no tables given for discovery", ErrUnknownTable)
	}
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		schema, table := "public", k
		if i := strings.IndexByte(k, '.'); i >= 0 {
			schema, table = k[:i], k[i+1:]
		}
		if table == "" {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTable, k)
		}
		schemas = append(schemas, schema)
		tables = append(tables, table)
	}
	return schemas, tables, nil
}

func splitColumnKey(key string) (schema, table, column string, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(key)), ".")
	switch len(parts) {
	case 2:
		return "public", parts[0], parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("%w: override key %q (want [schema.]table.column)", ErrUnknownColumn, key)
	}
}
