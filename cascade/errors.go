// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration error sentinels. These are raised before any statement is
// issued, so a caller that sees one can be sure nothing was written.
var (
	ErrConflictOptions = errors.New("conflict_options")
	ErrNilPrimaryKey   = errors.New("nil_primary_key")
	ErrMixedTables     = errors.New("mixed_tables")
	ErrUnknownTable    = errors.New("unknown_table")
	ErrUnknownColumn   = errors.New("unknown_column")
	ErrMissingDefault  = errors.New("missing_default")
)

// CapabilityError reports that the active dialect lacks a feature the caller
// requested. It names the missing capability so error messages stay useful
// across backends.
type CapabilityError struct {
	Dialect    string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("dialect %s does not support %s", e.Dialect, e.Capability)
}

// BlockingRef describes rows in a child table that reference rows scheduled
// for deletion through a Protect or Restrict edge.
type BlockingRef struct {
	Edge     *RelationEdge
	ChildIDs []any
}

// ProtectedError is raised when a Protect edge points at a row scheduled for
// deletion. Protect always blocks, even when the referencing rows are
// themselves part of the cascade.
type ProtectedError struct {
	Refs []BlockingRef
}

func (e *ProtectedError) Error() string {
	return "cannot delete: protected by " + describeRefs(e.Refs)
}

// RestrictedError is raised when a Restrict edge points at a row scheduled
// for deletion and the referencing rows are not themselves being deleted
// through another path.
type RestrictedError struct {
	Refs []BlockingRef
}

func (e *RestrictedError) Error() string {
	return "cannot delete: restricted by " + describeRefs(e.Refs)
}

func describeRefs(refs []BlockingRef) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, fmt.Sprintf("%s.%s (%d rows)",
			ref.Edge.Child.Key(), ref.Edge.ChildColumn, len(ref.ChildIDs)))
	}
	return strings.Join(parts, ", ")
}
