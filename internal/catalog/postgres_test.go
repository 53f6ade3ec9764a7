package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/catalog"
	"librarium/internal/eventlog"
	"librarium/internal/liberr"
	"librarium/internal/testutil/pgtest"
)

func newPostgresService(t *testing.T) catalog.Service {
	db := pgtest.Open(t)
	return catalog.NewService(db, catalog.NewRepository(), eventlog.New(db.Reader()))
}

func TestPostgresStockAndUpdate(t *testing.T) {
	svc := newPostgresService(t)
	ctx := context.Background()

	book, err := svc.StockBook(ctx, hobbit())
	require.NoError(t, err)
	assert.True(t, book.Available)

	_, err = svc.StockBook(ctx, hobbit())
	assert.Equal(t, liberr.KindDuplicate, liberr.KindOf(err))

	zero := 0
	updated, err := svc.UpdateBook(ctx, book.ID, catalog.BookPatch{Copies: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Copies)
	assert.False(t, updated.Available)

	history, err := svc.History(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, eventlog.BookStocked, history[0].EventType)
	assert.Equal(t, eventlog.BookEdited, history[1].EventType)

	require.NoError(t, svc.DeleteBook(ctx, book.ID))
	_, err = svc.GetBook(ctx, book.ID)
	assert.Equal(t, liberr.KindNotFound, liberr.KindOf(err))
}

func TestPostgresListBooks(t *testing.T) {
	svc := newPostgresService(t)
	ctx := context.Background()

	for i, author := range []string{"ann leckie", "ann leckie", "martha wells"} {
		_, err := svc.StockBook(ctx, catalog.NewBook{
			Title:       "Book " + uuid.NewString()[:8],
			Author:      author,
			Genre:       catalog.GenreScience,
			ISBN:        uuid.NewString(),
			Description: "d",
			Copies:      i,
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	page, err := svc.ListBooks(ctx, catalog.Filter{Author: "Ann Leckie", SortBy: catalog.SortAsc, ResultsPerPage: 10, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Books, 2)
	assert.True(t, page.Books[0].CreatedAt.Before(page.Books[1].CreatedAt))

	available := true
	page, err = svc.ListBooks(ctx, catalog.Filter{Available: &available, SortBy: catalog.SortDesc, ResultsPerPage: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Books, 1)

	authors, err := svc.Authors(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ann Leckie", "Martha Wells"}, authors)

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 3)
}
