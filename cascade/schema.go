// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"fmt"
	"sort"
	"strings"
)

// OnDelete classifies what happens to referencing rows when their referenced
// row is deleted.
type OnDelete int

const (
	// Cascade deletes referencing rows recursively.
	Cascade OnDelete = iota
	// SetNull nulls the referencing column.
	SetNull
	// SetDefault resets the referencing column to its declared default.
	SetDefault
	// Protect blocks the deletion unconditionally while references exist.
	Protect
	// Restrict blocks the deletion unless the referencing rows are being
	// deleted through another path of the same operation.
	Restrict
	// DoNothing leaves referencing rows alone (the database is trusted to
	// either allow or reject the delete on its own).
	DoNothing
)

func (p OnDelete) String() string {
	switch p {
	case Cascade:
		return "CASCADE"
	case SetNull:
		return "SET_NULL"
	case SetDefault:
		return "SET_DEFAULT"
	case Protect:
		return "PROTECT"
	case Restrict:
		return "RESTRICT"
	case DoNothing:
		return "DO_NOTHING"
	default:
		return fmt.Sprintf("OnDelete(%d)", int(p))
	}
}

// UniqueConstraint is a set of columns that must be distinct, optionally
// narrowed by a partial-index condition (raw SQL, no arguments).
type UniqueConstraint struct {
	Name      string
	Columns   []string
	Condition string
}

// Table describes one database table the library operates on.
type Table struct {
	Schema   string
	Name     string
	PKColumn string

	// Columns lists the concrete columns, PK included, in insert order.
	Columns []string

	Uniques []UniqueConstraint

	// Defaults supplies values for SET_DEFAULT edges and for columns omitted
	// from a record on insert.
	Defaults map[string]any
}

// Key returns the normalized schema.table identifier.
func (t *Table) Key() string {
	return Key(t.Schema, t.Name)
}

// QualifiedName returns the name used in generated SQL.
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// HasColumn reports whether col is a declared concrete column.
func (t *Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Key creates a normalized schema.table key.
func Key(schema, table string) string {
	if schema == "" {
		schema = "public"
	}
	return strings.ToLower(schema + "." + table)
}

// RelationEdge is one foreign key: a child column pointing at a parent
// table, tagged with its on-delete policy.
type RelationEdge struct {
	ConstraintName string
	Child          *Table
	ChildColumn    string
	Parent         *Table
	ParentColumn   string
	OnDelete       OnDelete
}

// ManyToManyRel binds two tables through a join table. The join table must
// be registered and carry a unique constraint over (SourceColumn,
// TargetColumn) so ignore-conflicts inserts are meaningful.
type ManyToManyRel struct {
	JoinTable    *Table
	Source       *Table
	SourceColumn string
	Target       *Table
	TargetColumn string
}

// Registry holds the relation metadata for a set of tables. Register
// everything up front; registration validates eagerly so collection and
// planning never meet an unknown table or column.
type Registry struct {
	tables   map[string]*Table
	edges    []*RelationEdge
	incoming map[string][]*RelationEdge // parent key -> edges pointing at it
	relCols  map[string]map[string]bool // table key -> FK child columns
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:   make(map[string]*Table),
		incoming: make(map[string][]*RelationEdge),
		relCols:  make(map[string]map[string]bool),
	}
}

// RegisterTable adds a table. The PK column must be listed in Columns.
func (r *Registry) RegisterTable(t *Table) error {
	if t.Name == "" {
		return fmt.Errorf("%w: table name is empty", ErrUnknownTable)
	}
	if t.PKColumn == "" || !t.HasColumn(t.PKColumn) {
		return fmt.Errorf("%w: %s: pk column %q not declared", ErrUnknownColumn, t.Key(), t.PKColumn)
	}
	for _, uc := range t.Uniques {
		for _, col := range uc.Columns {
			if !t.HasColumn(col) {
				return fmt.Errorf("%w: %s: unique constraint %q references %q", ErrUnknownColumn, t.Key(), uc.Name, col)
			}
		}
	}
	r.tables[t.Key()] = t
	return nil
}

// Table looks up a registered table by schema and name.
func (r *Registry) Table(schema, name string) (*Table, bool) {
	t, ok := r.tables[Key(schema, name)]
	return t, ok
}

// Tables returns all registered tables in deterministic key order.
func (r *Registry) Tables() []*Table {
	keys := make([]string, 0, len(r.tables))
	for k := range r.tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Table, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.tables[k])
	}
	return out
}

// RegisterEdge adds a foreign key edge between two registered tables.
func (r *Registry) RegisterEdge(e *RelationEdge) error {
	if e.Child == nil || e.Parent == nil {
		return fmt.Errorf("%w: edge %q has nil endpoint", ErrUnknownTable, e.ConstraintName)
	}
	if _, ok := r.tables[e.Child.Key()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, e.Child.Key())
	}
	if _, ok := r.tables[e.Parent.Key()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, e.Parent.Key())
	}
	if !e.Child.HasColumn(e.ChildColumn) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.Child.Key(), e.ChildColumn)
	}
	if e.ParentColumn == "" {
		e.ParentColumn = e.Parent.PKColumn
	}
	if !e.Parent.HasColumn(e.ParentColumn) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.Parent.Key(), e.ParentColumn)
	}
	if e.OnDelete == SetDefault {
		if _, ok := e.Child.Defaults[e.ChildColumn]; !ok {
			return fmt.Errorf("%w: %s.%s has no default for SET_DEFAULT", ErrMissingDefault, e.Child.Key(), e.ChildColumn)
		}
	}
	r.edges = append(r.edges, e)
	r.incoming[e.Parent.Key()] = append(r.incoming[e.Parent.Key()], e)
	cols := r.relCols[e.Child.Key()]
	if cols == nil {
		cols = make(map[string]bool)
		r.relCols[e.Child.Key()] = cols
	}
	cols[e.ChildColumn] = true
	return nil
}

// RegisterManyToMany validates and returns a many-to-many relation over an
// already-registered join table.
func (r *Registry) RegisterManyToMany(rel *ManyToManyRel) error {
	if rel.JoinTable == nil || rel.Source == nil || rel.Target == nil {
		return fmt.Errorf("%w: many-to-many relation has nil table", ErrUnknownTable)
	}
	if _, ok := r.tables[rel.JoinTable.Key()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, rel.JoinTable.Key())
	}
	if !rel.JoinTable.HasColumn(rel.SourceColumn) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, rel.JoinTable.Key(), rel.SourceColumn)
	}
	if !rel.JoinTable.HasColumn(rel.TargetColumn) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, rel.JoinTable.Key(), rel.TargetColumn)
	}
	if rel.JoinTable.pairConstraint(rel.SourceColumn, rel.TargetColumn) == nil {
		return fmt.Errorf("%s: join table needs a unique constraint over (%s, %s)",
			rel.JoinTable.Key(), rel.SourceColumn, rel.TargetColumn)
	}
	return nil
}

// pairConstraint finds a unique constraint covering exactly the two columns.
func (t *Table) pairConstraint(a, b string) *UniqueConstraint {
	for i := range t.Uniques {
		uc := &t.Uniques[i]
		if len(uc.Columns) != 2 {
			continue
		}
		if (uc.Columns[0] == a && uc.Columns[1] == b) || (uc.Columns[0] == b && uc.Columns[1] == a) {
			return uc
		}
	}
	return nil
}

// SetOnDelete overrides the policy of the edge identified by child table and
// column. Used to apply application-level Protect/Restrict on top of
// discovered SQL rules.
func (r *Registry) SetOnDelete(child *Table, column string, policy OnDelete) error {
	for _, e := range r.edges {
		if e.Child.Key() == child.Key() && e.ChildColumn == column {
			if policy == SetDefault {
				if _, ok := e.Child.Defaults[column]; !ok {
					return fmt.Errorf("%w: %s.%s has no default for SET_DEFAULT", ErrMissingDefault, child.Key(), column)
				}
			}
			e.OnDelete = policy
			return nil
		}
	}
	return fmt.Errorf("%w: no edge %s.%s", ErrUnknownColumn, child.Key(), column)
}

// IncomingEdges returns the edges whose parent is table.
func (r *Registry) IncomingEdges(table *Table) []*RelationEdge {
	return r.incoming[table.Key()]
}

// IsRelationColumn reports whether col is the child side of a registered
// foreign key on table.
func (r *Registry) IsRelationColumn(table *Table, col string) bool {
	return r.relCols[table.Key()][col]
}

// Record is one pending or loaded row.
type Record struct {
	Table  *Table
	Values map[string]any
}

// NewRecord creates a record for table with the given column values.
func NewRecord(t *Table, values map[string]any) *Record {
	if values == nil {
		values = make(map[string]any)
	}
	return &Record{Table: t, Values: values}
}

// PK returns the primary key value, and false when it is absent or nil.
func (r *Record) PK() (any, bool) {
	v, ok := r.Values[r.Table.PKColumn]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// SetPK stores a generated primary key back onto the record.
func (r *Record) SetPK(v any) {
	r.Values[r.Table.PKColumn] = v
}
