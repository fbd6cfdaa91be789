// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🚀 go-cascade - Bulk Writes and Cascading Deletes for SQL")
	fmt.Println("=========================================================")
	fmt.Println()
	fmt.Println("go-cascade plans batched inserts under backend parameter limits, resolves")
	fmt.Println("unique-constraint conflicts (ignore or upsert), manages many-to-many join")
	fmt.Println("tables, and computes plan-then-execute cascading deletes with PROTECT and")
	fmt.Println("RESTRICT enforcement.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🗄️  SQLite Blog Example (examples/blog_sqlite/)")
	fmt.Println("   Embedded in-memory blog: bulk inserts, upserts, tags, cascade delete")
	fmt.Println("   Features: database/sql executor, hand-declared registry, receivers")
	fmt.Println("   Run: cd examples/blog_sqlite && go run .")
	fmt.Println()

	fmt.Println("2. 🐘 PostgreSQL Discovery Example (examples/pg_discovery/)")
	fmt.Println("   Schema discovery from information_schema with policy overrides")
	fmt.Println("   Features: deferrable FK migration, serializable transactions with retry")
	fmt.Println("   Run: cd examples/pg_discovery && go run .")
	fmt.Println()
}
