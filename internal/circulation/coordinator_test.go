package circulation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"librarium/internal/catalog"
	"librarium/internal/chaos"
	"librarium/internal/circulation"
	"librarium/internal/eventlog"
	"librarium/internal/inventory"
	"librarium/internal/liberr"
	"librarium/internal/store"
	"librarium/internal/testutil/memstore"
)

var dueDate = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func seedBook(mem *memstore.Store, copies int) uuid.UUID {
	id := uuid.New()
	mem.SeedBook(catalog.Book{
		ID:        id,
		Title:     "The Left Hand of Darkness",
		Author:    "Ursula K. Le Guin",
		Genre:     catalog.GenreFiction,
		ISBN:      id.String(),
		Copies:    copies,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	return id
}

func newCoordinator(mem *memstore.Store, opts ...circulation.Option) *circulation.Coordinator {
	return circulation.NewCoordinator(mem, mem, inventory.NewLedger(mem), mem, opts...)
}

func TestCreateBorrowCommits(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)

	result, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: bookID, Quantity: 2, DueDate: dueDate,
	})
	require.NoError(t, err)

	assert.Equal(t, "New borrow recorded. Deadline is: Tue Jul 01 2025", result.Message)
	assert.Equal(t, bookID, result.Borrow.BookID)
	assert.Equal(t, 2, result.Borrow.Quantity)

	book, _ := mem.Book(bookID)
	assert.Equal(t, 3, book.Copies)
	assert.True(t, book.Available)

	require.Len(t, mem.Borrows(), 1)
	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.BorrowRecorded, events[0].EventType)
	assert.Equal(t, result.Borrow.ID, events[0].AggregateID)
}

func TestCreateBorrowLastCopiesMakesBookUnavailable(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 1)

	_, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: bookID, Quantity: 1, DueDate: dueDate,
	})
	require.NoError(t, err)

	book, _ := mem.Book(bookID)
	assert.Equal(t, 0, book.Copies)
	assert.False(t, book.Available)
}

func TestCreateBorrowInsufficientStockLeavesNoTrace(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 2)

	_, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: bookID, Quantity: 3, DueDate: dueDate,
	})
	require.Error(t, err)

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Available)

	book, _ := mem.Book(bookID)
	assert.Equal(t, 2, book.Copies)
	assert.Empty(t, mem.Borrows())
	assert.Empty(t, mem.Events())
}

func TestCreateBorrowMissingBook(t *testing.T) {
	mem := memstore.New()

	_, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: uuid.New(), Quantity: 1, DueDate: dueDate,
	})
	require.Error(t, err)
	assert.Equal(t, liberr.KindNotFound, liberr.KindOf(err))
	assert.Empty(t, mem.Borrows())
}

func TestCreateBorrowValidation(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 2)
	c := newCoordinator(mem)

	for name, req := range map[string]circulation.BorrowRequest{
		"zero quantity": {BookID: bookID, Quantity: 0, DueDate: dueDate},
		"nil book":      {Quantity: 1, DueDate: dueDate},
		"no due date":   {BookID: bookID, Quantity: 1},
	} {
		_, err := c.CreateBorrow(context.Background(), req)
		assert.Equal(t, liberr.KindValidation, liberr.KindOf(err), name)
	}

	book, _ := mem.Book(bookID)
	assert.Equal(t, 2, book.Copies)
}

func TestCreateBorrowPastDueDateIsAccepted(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 1)

	_, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: bookID, Quantity: 1, DueDate: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
}

func TestCreateBorrowTruncatesDueDate(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 1)

	result, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: bookID, Quantity: 1, DueDate: time.Date(2025, 7, 1, 18, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, dueDate, result.Borrow.DueDate)
}

func TestCreateBorrowFaultsAbortAtomically(t *testing.T) {
	for _, point := range []string{circulation.PointBorrowStaged, circulation.PointBeforeCommit} {
		t.Run(point, func(t *testing.T) {
			mem := memstore.New()
			bookID := seedBook(mem, 5)

			faults := chaos.NewInjector()
			boom := errors.New("injected crash")
			faults.Arm(point, chaos.Fault{Err: boom, Once: true})

			c := newCoordinator(mem, circulation.WithFaults(faults))
			_, err := c.CreateBorrow(context.Background(), circulation.BorrowRequest{
				BookID: bookID, Quantity: 2, DueDate: dueDate,
			})
			require.ErrorIs(t, err, boom)
			assert.Equal(t, 1, faults.Hits(point))

			book, _ := mem.Book(bookID)
			assert.Equal(t, 5, book.Copies)
			assert.Empty(t, mem.Borrows())
			assert.Empty(t, mem.Events())

			// The fault was armed once; the retry goes through.
			_, err = c.CreateBorrow(context.Background(), circulation.BorrowRequest{
				BookID: bookID, Quantity: 2, DueDate: dueDate,
			})
			require.NoError(t, err)
			book, _ = mem.Book(bookID)
			assert.Equal(t, 3, book.Copies)
		})
	}
}

func TestCreateBorrowEventFailureRollsBack(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)
	mem.FailNext(memstore.OpAppendEvent, errors.New("disk full"))

	_, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: bookID, Quantity: 1, DueDate: dueDate,
	})
	require.Error(t, err)

	book, _ := mem.Book(bookID)
	assert.Equal(t, 5, book.Copies)
	assert.Empty(t, mem.Borrows())
}

func TestCreateBorrowConflictIsRetryable(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)
	mem.FailNext(memstore.OpCommit, store.ErrTxConflict)

	_, err := newCoordinator(mem).CreateBorrow(context.Background(), circulation.BorrowRequest{
		BookID: bookID, Quantity: 1, DueDate: dueDate,
	})
	require.ErrorIs(t, err, store.ErrTxConflict)
	assert.True(t, liberr.IsRetryable(err))

	book, _ := mem.Book(bookID)
	assert.Equal(t, 5, book.Copies)
}

func TestCreateBorrowCancelledContext(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newCoordinator(mem).CreateBorrow(ctx, circulation.BorrowRequest{
		BookID: bookID, Quantity: 1, DueDate: dueDate,
	})
	require.ErrorIs(t, err, context.Canceled)
	book, _ := mem.Book(bookID)
	assert.Equal(t, 5, book.Copies)
}

func TestCreateBorrowSlowCommitHitsDeadline(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)

	faults := chaos.NewInjector()
	faults.Arm(circulation.PointBeforeCommit, chaos.Fault{Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newCoordinator(mem, circulation.WithFaults(faults)).CreateBorrow(ctx, circulation.BorrowRequest{
		BookID: bookID, Quantity: 1, DueDate: dueDate,
	})
	require.Error(t, err)
	assert.Equal(t, liberr.KindUnavailable, liberr.KindOf(err))

	book, _ := mem.Book(bookID)
	assert.Equal(t, 5, book.Copies)
}

func TestConcurrentBorrowsNeverOversell(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 5)
	c := newCoordinator(mem)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.CreateBorrow(context.Background(), circulation.BorrowRequest{
				BookID: bookID, Quantity: 3, DueDate: dueDate,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, liberr.KindInsufficientStock, liberr.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	book, _ := mem.Book(bookID)
	assert.Equal(t, 2, book.Copies)
	assert.Len(t, mem.Borrows(), 1)
}

func TestManyConcurrentBorrowsConserveCopies(t *testing.T) {
	mem := memstore.New()
	bookID := seedBook(mem, 10)
	c := newCoordinator(mem)

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.CreateBorrow(context.Background(), circulation.BorrowRequest{
				BookID: bookID, Quantity: 1, DueDate: dueDate,
			}); err == nil {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, taken)
	book, _ := mem.Book(bookID)
	assert.Equal(t, 0, book.Copies)
	assert.False(t, book.Available)
	assert.Zero(t, mem.Consistency().Violations())
}

func TestRandomBorrowSequencesKeepInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mem := memstore.New()
		stock := rapid.IntRange(0, 15).Draw(rt, "stock")
		bookID := seedBook(mem, stock)

		faults := chaos.NewInjector()
		c := newCoordinator(mem, circulation.WithFaults(faults))

		borrowed := 0
		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			quantity := rapid.IntRange(1, 5).Draw(rt, "quantity")
			if rapid.Bool().Draw(rt, "fault") {
				faults.Arm(circulation.PointBeforeCommit, chaos.Fault{Once: true})
			}
			if _, err := c.CreateBorrow(context.Background(), circulation.BorrowRequest{
				BookID: bookID, Quantity: quantity, DueDate: dueDate,
			}); err == nil {
				borrowed += quantity
			}
			faults.Disarm(circulation.PointBeforeCommit)
		}

		book, _ := mem.Book(bookID)
		if book.Copies != stock-borrowed || book.Copies < 0 {
			rt.Fatalf("stock=%d borrowed=%d copies=%d", stock, borrowed, book.Copies)
		}
		total := 0
		for _, b := range mem.Borrows() {
			total += b.Quantity
		}
		if total != borrowed {
			rt.Fatalf("borrow rows total %d, committed %d", total, borrowed)
		}
		if v := mem.Consistency().Violations(); v != 0 {
			rt.Fatalf("%d consistency violations", v)
		}
	})
}
