package cascade

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mobiletoly/go-cascade/cascade"
)

// TestHarness runs the library against a real PostgreSQL database in a
// container, with the business schema below and a discovery-built registry.
//
//	orgs <- users (ON DELETE CASCADE)
//	orgs <- posts (ON DELETE CASCADE)
//	users <- posts.author_id (NO ACTION; tests override per scenario)
//	posts <- post_tags (ON DELETE CASCADE)
//	tags  <- post_tags (ON DELETE CASCADE)
//	audit_log (standalone, nothing references it)
type TestHarness struct {
	t         *testing.T
	ctx       context.Context
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *cascade.Store
	registry  *cascade.Registry
	logger    *slog.Logger
}

// NewTestHarness creates a harness with the default discovered policies.
func NewTestHarness(t *testing.T) *TestHarness {
	return NewTestHarnessWithOverrides(t, nil)
}

// NewTestHarnessWithOverrides layers application-level policies on top of the
// discovered SQL delete rules.
func NewTestHarnessWithOverrides(t *testing.T, overrides map[string]cascade.OnDelete) *TestHarness {
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("cascade_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	h := &TestHarness{
		t:         t,
		ctx:       ctx,
		container: container,
		pool:      pool,
		logger:    logger,
	}
	h.createBusinessTables()

	discovery := cascade.NewSchemaDiscovery(pool, logger)
	registry, err := discovery.DiscoverRegistry(ctx, cascade.DiscoveryOptions{
		Tables:          []string{"orgs", "users", "posts", "tags", "post_tags", "audit_log"},
		PolicyOverrides: overrides,
	})
	require.NoError(t, err)
	h.registry = registry

	store, err := cascade.NewStore(cascade.NewPgxExecutor(pool), registry, nil, logger)
	require.NoError(t, err)
	h.store = store

	t.Cleanup(func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return h
}

func (h *TestHarness) createBusinessTables() {
	schema := `
		CREATE TABLE orgs (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			CONSTRAINT orgs_name_uniq UNIQUE (name)
		);
		CREATE TABLE users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL,
			org_id BIGINT REFERENCES orgs(id) ON DELETE CASCADE,
			CONSTRAINT users_email_uniq UNIQUE (email)
		);
		CREATE TABLE posts (
			id BIGSERIAL PRIMARY KEY,
			org_id BIGINT REFERENCES orgs(id) ON DELETE CASCADE,
			author_id BIGINT REFERENCES users(id),
			title TEXT NOT NULL
		);
		CREATE TABLE tags (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			CONSTRAINT tags_name_uniq UNIQUE (name)
		);
		CREATE TABLE post_tags (
			id BIGSERIAL PRIMARY KEY,
			post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			CONSTRAINT post_tags_pair UNIQUE (post_id, tag_id)
		);
		CREATE TABLE audit_log (
			id BIGSERIAL PRIMARY KEY,
			event TEXT NOT NULL
		);
	`
	_, err := h.pool.Exec(h.ctx, schema)
	require.NoError(h.t, err)
}

func (h *TestHarness) table(name string) *cascade.Table {
	tab, ok := h.registry.Table("public", name)
	require.True(h.t, ok, "table %s not discovered", name)
	return tab
}

func (h *TestHarness) createOrg(name string) int64 {
	var id int64
	err := h.pool.QueryRow(h.ctx,
		`INSERT INTO orgs (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	require.NoError(h.t, err)
	return id
}

func (h *TestHarness) createUser(email string, orgID int64) int64 {
	var id int64
	err := h.pool.QueryRow(h.ctx,
		`INSERT INTO users (email, org_id) VALUES ($1, $2) RETURNING id`, email, orgID).Scan(&id)
	require.NoError(h.t, err)
	return id
}

func (h *TestHarness) createPost(title string, orgID, authorID int64) int64 {
	var id int64
	err := h.pool.QueryRow(h.ctx,
		`INSERT INTO posts (org_id, author_id, title) VALUES ($1, $2, $3) RETURNING id`,
		orgID, authorID, title).Scan(&id)
	require.NoError(h.t, err)
	return id
}

func (h *TestHarness) createTag(name string) int64 {
	var id int64
	err := h.pool.QueryRow(h.ctx,
		`INSERT INTO tags (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	require.NoError(h.t, err)
	return id
}

func (h *TestHarness) countRows(table string) int64 {
	var n int64
	err := h.pool.QueryRow(h.ctx, "SELECT count(*) FROM "+table).Scan(&n)
	require.NoError(h.t, err)
	return n
}

func (h *TestHarness) postTagsRel() *cascade.ManyToManyRel {
	rel := &cascade.ManyToManyRel{
		JoinTable: h.table("post_tags"),
		Source:    h.table("posts"), SourceColumn: "post_id",
		Target: h.table("tags"), TargetColumn: "tag_id",
	}
	require.NoError(h.t, h.registry.RegisterManyToMany(rel))
	return rel
}
