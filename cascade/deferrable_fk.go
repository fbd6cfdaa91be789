// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// DeferrableFKManager upgrades the foreign keys of registered tables to
// DEFERRABLE INITIALLY DEFERRED, so the collector's multi-statement delete
// plans never trip constraint checks on intermediate states within a
// transaction.
type DeferrableFKManager struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDeferrableFKManager creates a manager for the registry's tables.
func NewDeferrableFKManager(registry *Registry, logger *slog.Logger) *DeferrableFKManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeferrableFKManager{registry: registry, logger: logger}
}

type deferrableFKRow struct {
	SchemaName     string `db:"table_schema"`
	TableName      string `db:"table_name"`
	ConstraintName string `db:"constraint_name"`
	IsDeferrable   string `db:"is_deferrable"`
}

// MigrateToDeferredInTx upgrades all non-deferred FKs of registered tables
// within the given transaction. Postgres 9.4+ allows altering FK
// deferrability in place.
func (m *DeferrableFKManager) MigrateToDeferredInTx(ctx context.Context, tx pgx.Tx) error {
	tables := m.registry.Tables()
	if len(tables) == 0 {
		m.logger.Info("No registered tables, skipping FK migration")
		return nil
	}

	var upgraded int
	for _, t := range tables {
		fks, err := m.nonDeferredFKs(ctx, tx, t)
		if err != nil {
			return fmt.Errorf("failed to get FKs for %s: %w", t.Key(), err)
		}
		for _, fk := range fks {
			alterSQL := fmt.Sprintf(
				"ALTER TABLE %s.%s ALTER CONSTRAINT %s DEFERRABLE INITIALLY DEFERRED",
				pgx.Identifier{fk.SchemaName}.Sanitize(),
				pgx.Identifier{fk.TableName}.Sanitize(),
				pgx.Identifier{fk.ConstraintName}.Sanitize(),
			)
			if _, err := tx.Exec(ctx, alterSQL); err != nil {
				m.logger.Error("Failed to upgrade FK to initially deferred",
					"constraint", fk.ConstraintName, "table", t.Key(), "error", err)
				return fmt.Errorf("failed to upgrade FK %s: %w", fk.ConstraintName, err)
			}
			upgraded++
			m.logger.Info("Upgraded FK to initially deferred",
				"constraint", fk.ConstraintName, "table", t.Key())
		}
	}
	if upgraded == 0 {
		m.logger.Info("All FK constraints are already initially deferred")
	} else {
		m.logger.Info("FK migration summary", "upgraded", upgraded)
	}
	return nil
}

func (m *DeferrableFKManager) nonDeferredFKs(ctx context.Context, tx pgx.Tx, t *Table) ([]deferrableFKRow, error) {
	const query = `
		SELECT
			tc.table_schema,
			tc.table_name,
			tc.constraint_name,
			tc.is_deferrable
		FROM information_schema.table_constraints tc
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = @schema_name
			AND tc.table_name = @table_name
			AND (tc.is_deferrable = 'NO' OR tc.initially_deferred = 'NO')
		ORDER BY tc.constraint_name`

	schema := t.Schema
	if schema == "" {
		schema = "public"
	}
	rows, err := tx.Query(ctx, query, pgx.NamedArgs{
		"schema_name": schema,
		"table_name":  t.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	fks, err := pgx.CollectRows(rows, pgx.RowToStructByName[deferrableFKRow])
	if err != nil {
		return nil, fmt.Errorf("failed to collect FK rows: %w", err)
	}
	return fks, nil
}
