// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"fmt"
	"strings"
)

// BulkInsertOptions controls batching and conflict handling for BulkInsert.
// IgnoreConflicts and UpdateConflicts are mutually exclusive.
type BulkInsertOptions struct {
	// BatchSize caps the computed batch size when > 0.
	BatchSize int

	// IgnoreConflicts skips rows that hit a uniqueness violation.
	IgnoreConflicts bool

	// UpdateConflicts turns conflicting rows into updates of UpdateFields.
	UpdateConflicts bool

	// UpdateFields are the columns rewritten on conflict. Required with
	// UpdateConflicts; the primary key and foreign key columns are rejected.
	UpdateFields []string

	// UniqueFields identify the constraint the conflict targets. Required
	// with UpdateConflicts on dialects that need an explicit target.
	UniqueFields []string
}

type conflictMode int

const (
	conflictNone conflictMode = iota
	conflictIgnore
	conflictUpdate
)

// conflictAction is a validated conflict plan: the mode plus the resolved
// constraint target for update mode.
type conflictAction struct {
	mode         conflictMode
	target       []string
	condition    string
	updateFields []string
}

// resolveConflictAction validates options against the table, registry and
// dialect before any SQL is generated. All configuration errors surface
// here, so a failed call is guaranteed to have issued no statements.
func resolveConflictAction(reg *Registry, dialect Dialect, table *Table, opts BulkInsertOptions) (conflictAction, error) {
	if opts.IgnoreConflicts && opts.UpdateConflicts {
		return conflictAction{}, fmt.Errorf("%w: ignore_conflicts and update_conflicts are mutually exclusive", ErrConflictOptions)
	}
	if !opts.UpdateConflicts && (len(opts.UpdateFields) > 0 || len(opts.UniqueFields) > 0) {
		return conflictAction{}, fmt.Errorf("%w: update_fields/unique_fields require update_conflicts", ErrConflictOptions)
	}

	switch {
	case opts.IgnoreConflicts:
		if !dialect.SupportsIgnoreConflicts {
			return conflictAction{}, &CapabilityError{Dialect: dialect.Name, Capability: "ignore_conflicts"}
		}
		return conflictAction{mode: conflictIgnore}, nil

	case opts.UpdateConflicts:
		if !dialect.SupportsUpdateConflicts {
			return conflictAction{}, &CapabilityError{Dialect: dialect.Name, Capability: "update_conflicts"}
		}
		if len(opts.UpdateFields) == 0 {
			return conflictAction{}, fmt.Errorf("%w: update_conflicts requires update_fields", ErrConflictOptions)
		}
		for _, f := range opts.UpdateFields {
			if !table.HasColumn(f) {
				return conflictAction{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Key(), f)
			}
			if f == table.PKColumn {
				return conflictAction{}, fmt.Errorf("%w: primary key %q cannot be an update target", ErrConflictOptions, f)
			}
			if reg != nil && reg.IsRelationColumn(table, f) {
				return conflictAction{}, fmt.Errorf("%w: relation column %q cannot be an update target", ErrConflictOptions, f)
			}
		}
		if len(opts.UniqueFields) == 0 {
			return conflictAction{}, fmt.Errorf("%w: update_conflicts requires unique_fields on %s", ErrConflictOptions, dialect.Name)
		}
		for _, f := range opts.UniqueFields {
			if !table.HasColumn(f) {
				return conflictAction{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Key(), f)
			}
			if reg != nil && reg.IsRelationColumn(table, f) {
				return conflictAction{}, fmt.Errorf("%w: relation column %q cannot be a conflict target", ErrConflictOptions, f)
			}
		}
		uc, err := matchUniqueConstraint(table, opts.UniqueFields)
		if err != nil {
			return conflictAction{}, err
		}
		action := conflictAction{
			mode:         conflictUpdate,
			target:       append([]string(nil), opts.UniqueFields...),
			updateFields: append([]string(nil), opts.UpdateFields...),
		}
		if uc != nil {
			action.condition = uc.Condition
		}
		return action, nil

	default:
		return conflictAction{mode: conflictNone}, nil
	}
}

// matchUniqueConstraint resolves unique fields to a declared constraint or
// the primary key. Returns nil for the PK case (no partial condition).
func matchUniqueConstraint(table *Table, fields []string) (*UniqueConstraint, error) {
	if len(fields) == 1 && fields[0] == table.PKColumn {
		return nil, nil
	}
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	for i := range table.Uniques {
		uc := &table.Uniques[i]
		if len(uc.Columns) != len(want) {
			continue
		}
		all := true
		for _, c := range uc.Columns {
			if !want[c] {
				all = false
				break
			}
		}
		if all {
			return uc, nil
		}
	}
	return nil, fmt.Errorf("%w: no unique constraint on %s over (%s)",
		ErrConflictOptions, table.Key(), strings.Join(fields, ", "))
}

// suffix renders the ON CONFLICT clause appended to a generated INSERT.
func (a conflictAction) suffix() string {
	switch a.mode {
	case conflictIgnore:
		return " ON CONFLICT DO NOTHING"
	case conflictUpdate:
		var sb strings.Builder
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(a.target, ", "))
		sb.WriteString(")")
		if a.condition != "" {
			sb.WriteString(" WHERE ")
			sb.WriteString(a.condition)
		}
		sb.WriteString(" DO UPDATE SET ")
		for i, f := range a.updateFields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f)
			sb.WriteString(" = EXCLUDED.")
			sb.WriteString(f)
		}
		return sb.String()
	default:
		return ""
	}
}
