// internal/store/schema.go
package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id          UUID PRIMARY KEY,
	title       TEXT NOT NULL,
	author      TEXT NOT NULL,
	genre       TEXT NOT NULL DEFAULT 'Uncategorized',
	isbn        TEXT NOT NULL,
	description TEXT NOT NULL,
	copies      INT NOT NULL,
	available   BOOLEAN NOT NULL,
	image_uri   TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT books_isbn_key UNIQUE (isbn),
	CONSTRAINT books_copies_non_negative CHECK (copies >= 0),
	CONSTRAINT books_available_matches_copies CHECK (available = (copies > 0))
);

CREATE INDEX IF NOT EXISTS books_created_at_idx ON books (created_at DESC);
CREATE INDEX IF NOT EXISTS books_author_idx ON books (author);

CREATE TABLE IF NOT EXISTS borrows (
	id         UUID PRIMARY KEY,
	book_id    UUID NOT NULL,
	quantity   INT NOT NULL,
	due_date   DATE NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT borrows_quantity_positive CHECK (quantity >= 1),
	CONSTRAINT borrows_book_fk FOREIGN KEY (book_id) REFERENCES books (id)
		DEFERRABLE INITIALLY DEFERRED
);

CREATE INDEX IF NOT EXISTS borrows_book_id_idx ON borrows (book_id);

CREATE TABLE IF NOT EXISTS events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_id   UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_data     JSONB NOT NULL,
	metadata       JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS events_aggregate_idx ON events (aggregate_id, id);
`

// Migrate creates the tables if they do not exist yet. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return Classify(fmt.Errorf("apply schema: %w", err))
	}
	return nil
}

// Consistency counts rows that break the inventory invariants.
type Consistency struct {
	NegativeCopies       int `db:"negative_copies" json:"negativeCopies"`
	AvailabilityMismatch int `db:"availability_mismatch" json:"availabilityMismatch"`
	OrphanBorrows        int `db:"orphan_borrows" json:"orphanBorrows"`
}

// Violations is the total number of inconsistent rows.
func (c Consistency) Violations() int {
	return c.NegativeCopies + c.AvailabilityMismatch + c.OrphanBorrows
}

// CheckConsistency scans books and borrows for invariant violations.
func (d *DB) CheckConsistency(ctx context.Context) (Consistency, error) {
	var report Consistency
	err := d.db.GetContext(ctx, &report, `
		SELECT
			(SELECT COUNT(*) FROM books WHERE copies < 0) AS negative_copies,
			(SELECT COUNT(*) FROM books WHERE available <> (copies > 0)) AS availability_mismatch,
			(SELECT COUNT(*) FROM borrows b LEFT JOIN books k ON k.id = b.book_id WHERE k.id IS NULL) AS orphan_borrows
	`)
	if err != nil {
		return Consistency{}, Classify(fmt.Errorf("check consistency: %w", err))
	}
	return report, nil
}
