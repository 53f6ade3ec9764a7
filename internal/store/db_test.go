package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/liberr"
	"librarium/internal/store"
	"librarium/internal/testutil/pgtest"
)

const insertBook = `
	INSERT INTO books (id, title, author, isbn, description, copies, available)
	VALUES ($1, 'Title', 'Author', $2, 'Description', $3, $4)`

func TestMigrateIsIdempotent(t *testing.T) {
	db := pgtest.Open(t)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Ping(context.Background()))
}

func TestWithinTxCommitsAndRollsBack(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()

	kept, dropped := uuid.New(), uuid.New()
	require.NoError(t, db.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		_, err := q.ExecContext(ctx, insertBook, kept, kept.String(), 1, true)
		return err
	}))

	boom := errors.New("boom")
	err := db.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		if _, err := q.ExecContext(ctx, insertBook, dropped, dropped.String(), 1, true); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.X().GetContext(ctx, &count, `SELECT COUNT(*) FROM books`))
	assert.Equal(t, 1, count)
}

func TestWithinTxClassifiesConstraintViolations(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()

	id := uuid.New()
	insert := func(id uuid.UUID, isbn string, copies int, available bool) error {
		return db.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
			_, err := q.ExecContext(ctx, insertBook, id, isbn, copies, available)
			return err
		})
	}
	require.NoError(t, insert(id, "isbn-1", 1, true))

	err := insert(uuid.New(), "isbn-1", 1, true)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, "books_isbn_key", store.ConstraintName(err))

	err = insert(uuid.New(), "isbn-2", -1, false)
	assert.ErrorIs(t, err, store.ErrConstraint)

	err = insert(uuid.New(), "isbn-3", 0, true)
	assert.Equal(t, liberr.KindValidation, liberr.KindOf(err), "available must follow copies")
}

func TestOrphanBorrowFailsAtCommit(t *testing.T) {
	db := pgtest.Open(t)

	err := db.WithinTx(context.Background(), func(ctx context.Context, q store.Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO borrows (id, book_id, quantity, due_date) VALUES ($1, $2, 1, CURRENT_DATE)`,
			uuid.New(), uuid.New())
		return err
	})
	assert.ErrorIs(t, err, store.ErrReferenced)
}

func TestCheckConsistencyOnCleanStore(t *testing.T) {
	db := pgtest.Open(t)

	report, err := db.CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Violations())
}

func TestWithinTxCancelledContext(t *testing.T) {
	db := pgtest.Open(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.WithinTx(ctx, func(context.Context, store.Querier) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}
