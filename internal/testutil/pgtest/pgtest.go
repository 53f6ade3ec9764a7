// Package pgtest connects tests to a real Postgres. Tests skip when none is
// reachable.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"librarium/internal/store"
)

// DSN builds a connection string from TEST_DATABASE_URL or the PG* variables.
func DSN() string {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"),
		env("PGPORT", "5432"),
		env("PGUSER", "librarium"),
		env("PGPASSWORD", "dev_password_change_in_prod"),
		env("PGDATABASE", "librarium_test"),
	)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// lockKey serializes test packages sharing one database.
const lockKey = 7361

// Open connects, applies the schema and empties every table. The connection
// is closed when the test ends.
func Open(t testing.TB) *store.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := store.Open(ctx, DSN(), store.PoolConfig{MaxOpenConns: 20})
	if err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lock, err := db.SQL().Conn(context.Background())
	if err != nil {
		t.Fatalf("reserve lock connection: %v", err)
	}
	if _, err := lock.ExecContext(context.Background(), `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		t.Fatalf("acquire test lock: %v", err)
	}
	t.Cleanup(func() {
		lock.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey)
		lock.Close()
	})

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.X().ExecContext(ctx, `TRUNCATE TABLE borrows, events, books`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}
