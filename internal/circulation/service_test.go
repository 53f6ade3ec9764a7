package circulation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/circulation"
	"librarium/internal/httpx"
	"librarium/internal/inventory"
	"librarium/internal/logging"
	"librarium/internal/testutil/memstore"
)

func newRedisCache(t *testing.T) (*circulation.RedisSummaryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return circulation.NewRedisSummaryCache(client, time.Minute), mr
}

func newService(mem *memstore.Store, opts ...circulation.Option) circulation.Service {
	return circulation.NewService(mem, mem, inventory.NewLedger(mem), mem, opts...)
}

func TestSummaryAggregatesPerBook(t *testing.T) {
	mem := memstore.New()
	first, second := seedBook(mem, 10), seedBook(mem, 10)
	svc := newService(mem)
	ctx := context.Background()

	for _, req := range []circulation.BorrowRequest{
		{BookID: first, Quantity: 2, DueDate: dueDate},
		{BookID: first, Quantity: 3, DueDate: dueDate},
		{BookID: second, Quantity: 1, DueDate: dueDate},
	} {
		_, err := svc.CreateBorrow(ctx, req)
		require.NoError(t, err)
	}

	rows, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	totals := map[string]int{}
	for _, row := range rows {
		totals[row.Book.ISBN] = row.TotalQuantity
	}
	assert.Equal(t, 5, totals[first.String()])
	assert.Equal(t, 1, totals[second.String()])
}

func TestSummaryIsCachedUntilNextBorrow(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 10)
	cache, mr := newRedisCache(t)
	svc := newService(mem, circulation.WithSummaryCache(cache))
	ctx := context.Background()

	_, err := svc.CreateBorrow(ctx, circulation.BorrowRequest{BookID: bookID, Quantity: 2, DueDate: dueDate})
	require.NoError(t, err)
	assert.False(t, mr.Exists(circulation.SummaryCacheKey))

	rows, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, mr.Exists(circulation.SummaryCacheKey))
	assert.Greater(t, mr.TTL(circulation.SummaryCacheKey), time.Duration(0))

	cached, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rows, cached)

	_, err = svc.CreateBorrow(ctx, circulation.BorrowRequest{BookID: bookID, Quantity: 1, DueDate: dueDate})
	require.NoError(t, err)
	assert.False(t, mr.Exists(circulation.SummaryCacheKey))

	rows, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rows[0].TotalQuantity)
}

func TestSummaryCacheOutageFallsBackToStore(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 10)
	cache, mr := newRedisCache(t)
	svc := newService(mem, circulation.WithSummaryCache(cache))
	ctx := context.Background()

	mr.Close()

	_, err := svc.CreateBorrow(ctx, circulation.BorrowRequest{BookID: bookID, Quantity: 4, DueDate: dueDate})
	require.NoError(t, err, "a committed borrow is not undone by a cache failure")

	rows, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].TotalQuantity)
}

func TestAbortedBorrowKeepsCache(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 1)
	cache, mr := newRedisCache(t)
	svc := newService(mem, circulation.WithSummaryCache(cache))
	ctx := context.Background()

	_, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(circulation.SummaryCacheKey))

	_, err = svc.CreateBorrow(ctx, circulation.BorrowRequest{BookID: bookID, Quantity: 2, DueDate: dueDate})
	require.Error(t, err)
	assert.True(t, mr.Exists(circulation.SummaryCacheKey))
}

type envelope struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	Error   *httpx.ErrorBody `json:"error"`
}

func newRouter(t *testing.T, mem *memstore.Store) http.Handler {
	t.Helper()
	h := circulation.NewHandler(newService(mem), logging.Discard())

	r := chi.NewRouter()
	r.NotFound(httpx.NotFound)
	r.MethodNotAllowed(httpx.MethodNotAllowed)
	r.Route("/api/borrow", h.Routes)
	return r
}

func send(t *testing.T, h http.Handler, method, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/borrow", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHandleBorrow(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)
	router := newRouter(t, mem)

	rec, env := send(t, router, http.MethodPost,
		`{"book":"`+bookID.String()+`","quantity":2,"dueDate":"2025-07-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, "New borrow recorded. Deadline is: Tue Jul 01 2025", env.Message)

	var borrow circulation.Borrow
	require.NoError(t, json.Unmarshal(env.Data, &borrow))
	assert.Equal(t, bookID, borrow.BookID)
	assert.Equal(t, 2, borrow.Quantity)

	book, _ := mem.Book(bookID)
	assert.Equal(t, 3, book.Copies)
}

func TestHandleBorrowAcceptsTimestamp(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)

	rec, env := send(t, newRouter(t, mem), http.MethodPost,
		`{"book":"`+bookID.String()+`","quantity":1,"dueDate":"2025-07-01T15:04:05Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "New borrow recorded. Deadline is: Tue Jul 01 2025", env.Message)
}

func TestHandleBorrowInsufficientStock(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 2)

	rec, env := send(t, newRouter(t, mem), http.MethodPost,
		`{"book":"`+bookID.String()+`","quantity":3,"dueDate":"2025-07-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Book with bookId: "+bookID.String()+" doesn't have 3 copies! Available: 2.", env.Message)
	require.NotNil(t, env.Error)
	assert.Equal(t, "insufficient_stock", env.Error.Kind)
	assert.Empty(t, mem.Borrows())
}

func TestHandleBorrowMissingBook(t *testing.T) {
	mem := memstore.New()
	rec, _ := send(t, newRouter(t, mem), http.MethodPost,
		`{"book":"0b9f3c0e-4a7b-4a57-a7c6-1f4f5f0f6d11","quantity":1,"dueDate":"2025-07-01"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleBorrowValidation(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 2)
	router := newRouter(t, mem)

	cases := map[string]string{
		"missing book":     `{"quantity":1,"dueDate":"2025-07-01"}`,
		"book not uuid":    `{"book":"abc","quantity":1,"dueDate":"2025-07-01"}`,
		"zero quantity":    `{"book":"` + bookID.String() + `","quantity":0,"dueDate":"2025-07-01"}`,
		"missing quantity": `{"book":"` + bookID.String() + `","dueDate":"2025-07-01"}`,
		"missing dueDate":  `{"book":"` + bookID.String() + `","quantity":1}`,
		"bad dueDate":      `{"book":"` + bookID.String() + `","quantity":1,"dueDate":"next week"}`,
		"unknown field":    `{"book":"` + bookID.String() + `","quantity":1,"dueDate":"2025-07-01","member":"x"}`,
	}
	for name, body := range cases {
		rec, env := send(t, router, http.MethodPost, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.False(t, env.Success, name)
	}

	book, _ := mem.Book(bookID)
	assert.Equal(t, 2, book.Copies)
	assert.Empty(t, mem.Borrows())
}

func TestHandleSummary(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)
	router := newRouter(t, mem)

	rec, env := send(t, router, http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0 borrowed records found.", env.Message)

	send(t, router, http.MethodPost, `{"book":"`+bookID.String()+`","quantity":2,"dueDate":"2025-07-01"}`)

	rec, env = send(t, router, http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1 borrowed record found.", env.Message)

	var rows []circulation.SummaryRow
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "The Left Hand of Darkness", rows[0].Book.Title)
	assert.Equal(t, 2, rows[0].TotalQuantity)
}

func TestParseDueDate(t *testing.T) {
	got, err := circulation.ParseDueDate("2025-12-24")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 24, 0, 0, 0, 0, time.UTC), got)

	_, err = circulation.ParseDueDate("24/12/2025")
	assert.Error(t, err)
}
