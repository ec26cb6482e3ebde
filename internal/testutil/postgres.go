package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEnv names the database used by integration tests.
const PostgresEnv = "CRAGCOACH_TEST_DATABASE_URL"

// PostgresFixture is a pool bound to a throwaway schema.
type PostgresFixture struct {
	Pool   *pgxpool.Pool
	URL    string // connection string with search_path set to Schema
	Schema string
}

// Exec runs statements in order and fails the test on the first error.
func (f *PostgresFixture) Exec(t *testing.T, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		if _, err := f.Pool.Exec(context.Background(), stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

// NewPostgres creates a schema named after the test inside the database at
// CRAGCOACH_TEST_DATABASE_URL and drops it when the test ends. The test is
// skipped when the variable is unset.
func NewPostgres(t *testing.T) *PostgresFixture {
	t.Helper()
	dbURL := strings.TrimSpace(os.Getenv(PostgresEnv))
	if dbURL == "" {
		t.Skipf("%s not set", PostgresEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	schema := schemaName(t.Name())
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("parse %s: %v", PostgresEnv, err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect test schema: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	return &PostgresFixture{Pool: pool, URL: cfg.ConnConfig.ConnString(), Schema: schema}
}

func schemaName(testName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(testName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 40 {
		name = name[:40]
	}
	return fmt.Sprintf("t_%s_%d", name, time.Now().UnixNano())
}
