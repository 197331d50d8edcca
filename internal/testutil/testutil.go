// Package testutil provides shared test infrastructure: a real Postgres +
// pgvector container for integration tests that exercise the storage layer,
// and a fast in-memory SQLite handle for unit tests that only need a plain
// relational store (no vector columns) and would rather not pay container
// startup cost.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/bugdedup/internal/storage"
	"github.com/ashita-ai/bugdedup/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a Postgres container with the pgvector extension
// pre-created. Calls os.Exit(1) on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg17",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "bugdedup",
			"POSTGRES_PASSWORD": "bugdedup",
			"POSTGRES_DB":       "bugdedup",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://bugdedup:bugdedup@%s:%s/bugdedup?sslmode=disable", host, port.Port())

	// Bootstrap the extension before any pool is created so pgvector types
	// get registered on the pool's AfterConnect hook.
	bootstrapConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to bootstrap connection: %v\n", err)
		os.Exit(1)
	}
	if _, err := bootstrapConn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to create vector extension: %v\n", err)
		os.Exit(1)
	}
	_ = bootstrapConn.Close(ctx)

	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, "", logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := storage.RunMigrations(ctx, tc.DSN, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// lowQualitySchema is a trimmed relational subset of the low_quality_queue
// table, enough for quality/detector unit tests that never touch the
// embedding or vector-index path. SQLite has no vector type, so tests that
// need one still use MustStartPostgres.
const lowQualitySchema = `
CREATE TABLE low_quality_queue (
	id TEXT PRIMARY KEY,
	raw_submission TEXT NOT NULL,
	quality_issues TEXT NOT NULL,
	quality_score REAL NOT NULL,
	status TEXT NOT NULL,
	reviewed_by TEXT,
	reviewed_at DATETIME,
	review_note TEXT,
	created_bug_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// OpenSQLite opens an in-memory SQLite database pre-loaded with the
// low_quality_queue table, for fast unit tests of quality-review logic that
// don't need a full Postgres+pgvector container.
func OpenSQLite(t interface{ Fatalf(string, ...any) }) *sql.DB {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("testutil: open sqlite: %v", err)
	}
	if _, err := db.Exec(lowQualitySchema); err != nil {
		t.Fatalf("testutil: create sqlite schema: %v", err)
	}
	return db
}
