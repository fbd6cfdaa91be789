package cascade

import (
	"errors"
	"strings"
	"testing"
)

func conflictTestRegistry(t *testing.T) (*Registry, *Table) {
	t.Helper()
	reg := NewRegistry()
	users := &Table{
		Schema:   "public",
		Name:     "users",
		PKColumn: "id",
		Columns:  []string{"id", "email", "tenant_id", "name", "org_id"},
		Uniques: []UniqueConstraint{
			{Name: "users_email_key", Columns: []string{"email"}},
			{Name: "users_tenant_name_key", Columns: []string{"tenant_id", "name"}},
			{Name: "users_active_email_key", Columns: []string{"email", "name"}, Condition: "name <> ''"},
		},
	}
	orgs := &Table{
		Schema:   "public",
		Name:     "orgs",
		PKColumn: "id",
		Columns:  []string{"id", "title"},
	}
	if err := reg.RegisterTable(users); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterTable(orgs); err != nil {
		t.Fatal(err)
	}
	err := reg.RegisterEdge(&RelationEdge{
		Child: users, ChildColumn: "org_id", Parent: orgs, OnDelete: Cascade,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg, users
}

func TestResolveConflictAction_MutuallyExclusive(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		IgnoreConflicts: true,
		UpdateConflicts: true,
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions, got %v", err)
	}
}

func TestResolveConflictAction_FieldsWithoutUpdateMode(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateFields: []string{"name"},
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions, got %v", err)
	}
}

func TestResolveConflictAction_UpdateRequiresFields(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UniqueFields:    []string{"email"},
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions, got %v", err)
	}
}

func TestResolveConflictAction_UpdateRequiresUniqueFields(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"name"},
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions, got %v", err)
	}
}

func TestResolveConflictAction_RejectsPKUpdateTarget(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"id"},
		UniqueFields:    []string{"email"},
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions for pk update target, got %v", err)
	}
}

func TestResolveConflictAction_RejectsRelationColumns(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"org_id"},
		UniqueFields:    []string{"email"},
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions for relation update field, got %v", err)
	}

	_, err = resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"name"},
		UniqueFields:    []string{"org_id"},
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions for relation unique field, got %v", err)
	}
}

func TestResolveConflictAction_UnknownColumn(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"nope"},
		UniqueFields:    []string{"email"},
	})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestResolveConflictAction_NoMatchingConstraint(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	_, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"name"},
		UniqueFields:    []string{"tenant_id"},
	})
	if !errors.Is(err, ErrConflictOptions) {
		t.Fatalf("expected ErrConflictOptions for unmatched constraint, got %v", err)
	}
}

func TestResolveConflictAction_CapabilityErrors(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	limited := Dialect{Name: "limited", MaxQueryParams: 100}

	_, err := resolveConflictAction(reg, limited, users, BulkInsertOptions{IgnoreConflicts: true})
	var capErr *CapabilityError
	if !errors.As(err, &capErr) || capErr.Capability != "ignore_conflicts" {
		t.Fatalf("expected ignore_conflicts capability error, got %v", err)
	}

	_, err = resolveConflictAction(reg, limited, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"name"},
		UniqueFields:    []string{"email"},
	})
	if !errors.As(err, &capErr) || capErr.Capability != "update_conflicts" {
		t.Fatalf("expected update_conflicts capability error, got %v", err)
	}
	if !strings.Contains(capErr.Error(), "limited") {
		t.Errorf("capability error should name the dialect: %s", capErr.Error())
	}
}

func TestResolveConflictAction_PKAsUniqueFields(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	action, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"name"},
		UniqueFields:    []string{"id"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := " ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name"
	if got := action.suffix(); got != want {
		t.Errorf("suffix = %q, want %q", got, want)
	}
}

func TestConflictSuffix(t *testing.T) {
	reg, users := conflictTestRegistry(t)

	action, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{IgnoreConflicts: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := action.suffix(); got != " ON CONFLICT DO NOTHING" {
		t.Errorf("ignore suffix = %q", got)
	}

	action, err = resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"name", "email"},
		UniqueFields:    []string{"tenant_id", "name"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := " ON CONFLICT (tenant_id, name) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email"
	if got := action.suffix(); got != want {
		t.Errorf("update suffix = %q, want %q", got, want)
	}
}

func TestConflictSuffix_PartialCondition(t *testing.T) {
	reg, users := conflictTestRegistry(t)
	action, err := resolveConflictAction(reg, Postgres, users, BulkInsertOptions{
		UpdateConflicts: true,
		UpdateFields:    []string{"tenant_id"},
		UniqueFields:    []string{"email", "name"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := action.suffix()
	if !strings.Contains(got, "WHERE name <> ''") {
		t.Errorf("expected partial-index condition in suffix, got %q", got)
	}
}
