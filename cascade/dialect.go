// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import "github.com/huandu/go-sqlbuilder"

// Dialect describes the capabilities and limits of a SQL backend that the
// planner and collector must respect. The zero value is not usable; start
// from Postgres or SQLite.
type Dialect struct {
	Name   string
	Flavor sqlbuilder.Flavor

	// MaxQueryParams bounds rows*columns per generated statement.
	MaxQueryParams int

	// SupportsReturning enables the fast insert path (RETURNING pk).
	SupportsReturning bool

	SupportsIgnoreConflicts bool
	SupportsUpdateConflicts bool

	// SupportsDeferrableConstraints gates the deferrable FK migration.
	SupportsDeferrableConstraints bool
}

// Postgres matches pgx-connected PostgreSQL 12+.
var Postgres = Dialect{
	Name:                          "postgres",
	Flavor:                        sqlbuilder.PostgreSQL,
	MaxQueryParams:                65535,
	SupportsReturning:             true,
	SupportsIgnoreConflicts:       true,
	SupportsUpdateConflicts:       true,
	SupportsDeferrableConstraints: true,
}

// SQLite matches mattn/go-sqlite3 with the default SQLITE_MAX_VARIABLE_NUMBER.
var SQLite = Dialect{
	Name:                    "sqlite",
	Flavor:                  sqlbuilder.SQLite,
	MaxQueryParams:          999,
	SupportsReturning:       true, // SQLite 3.35+
	SupportsIgnoreConflicts: true,
	SupportsUpdateConflicts: true,
}
