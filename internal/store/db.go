// internal/store/db.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Querier runs statements either directly on the pool or inside a unit of
// work. *sqlx.DB and *sqlx.Tx both satisfy it.
type Querier interface {
	sqlx.ExtContext
}

// TxFunc is the body of a unit of work. Every statement it issues must go
// through q so that it commits or rolls back together.
type TxFunc func(ctx context.Context, q Querier) error

// Transactor opens units of work.
type Transactor interface {
	WithinTx(ctx context.Context, fn TxFunc) error
}

// Database is what services need from the store: units of work plus plain
// reads outside of one.
type Database interface {
	Transactor
	Reader() Querier
}

// DB wraps the Postgres pool.
type DB struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Classify(fmt.Errorf("ping database: %w", err))
	}

	return New(db), nil
}

// New wraps an existing sqlx handle.
func New(db *sqlx.DB) *DB {
	return &DB{
		db:     db,
		tracer: otel.Tracer("librarium/store"),
	}
}

// X exposes the pool for statements that do not need a unit of work.
func (d *DB) X() *sqlx.DB {
	return d.db
}

// Reader returns the pool as a Querier for reads outside a unit of work.
func (d *DB) Reader() Querier {
	return d.db
}

// SQL exposes the underlying database/sql pool.
func (d *DB) SQL() *sql.DB {
	return d.db.DB
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return Classify(d.db.PingContext(ctx))
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// WithinTx runs fn inside a single transaction. The transaction commits only
// when fn returns nil; on error, panic or context cancellation it is rolled
// back. The handle never outlives this call.
//
// READ COMMITTED is used together with row locks (SELECT ... FOR UPDATE) taken
// by the callers: a waiting transaction re-reads the committed row instead of
// failing with a serialization error.
func (d *DB) WithinTx(ctx context.Context, fn TxFunc) error {
	ctx, span := d.tracer.Start(ctx, "store.transaction")
	defer span.End()

	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		err = Classify(fmt.Errorf("begin transaction: %w", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		err = Classify(err)
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("tx.committed", false))
		return err
	}

	if err := tx.Commit(); err != nil {
		err = Classify(fmt.Errorf("commit transaction: %w", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return err
	}

	span.SetAttributes(attribute.Bool("tx.committed", true))
	return nil
}
