// Package memstore is an in-memory stand-in for the Postgres store. Units of
// work are fully serialized and roll back on error or panic, which gives the
// same observable outcomes as row locks for single-book workloads.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/eventlog"
	"librarium/internal/store"
)

// Operations that can be made to fail with FailNext.
const (
	OpInsertBook   = "InsertBook"
	OpUpdateBook   = "UpdateBook"
	OpDeleteBook   = "DeleteBook"
	OpInsertBorrow = "InsertBorrow"
	OpAppendEvent  = "AppendEvent"
	OpCommit       = "Commit"
)

var ErrClosedTx = errors.New("memstore: transaction already closed")

type state struct {
	books   map[uuid.UUID]catalog.Book
	borrows []circulation.Borrow
	events  []eventlog.Event
	nextID  int64
}

func (s *state) clone() state {
	books := make(map[uuid.UUID]catalog.Book, len(s.books))
	for id, b := range s.books {
		books[id] = b
	}
	return state{
		books:   books,
		borrows: slices.Clone(s.borrows),
		events:  slices.Clone(s.events),
		nextID:  s.nextID,
	}
}

// Store implements store.Database, catalog.Store, circulation.BorrowStore
// and the event log in memory.
type Store struct {
	mu       sync.Mutex
	st       state
	failures map[string]error
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		st:       state{books: make(map[uuid.UUID]catalog.Book)},
		failures: make(map[string]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// querier satisfies store.Querier by embedding a nil interface; the memstore
// never runs SQL through it.
type querier struct {
	sqlx.ExtContext
	store *Store
}

type tx struct {
	sqlx.ExtContext
	store  *Store
	closed bool
}

// Reader returns a querier for reads outside a unit of work.
func (s *Store) Reader() store.Querier {
	return &querier{store: s}
}

// WithinTx runs fn with exclusive access to the store. State is restored
// unless fn returns nil and the commit checks pass.
func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	t := &tx{store: s}
	committed := false
	defer func() {
		t.closed = true
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(ctx, t); err != nil {
		return store.Classify(err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	if err := s.consume(OpCommit); err != nil {
		return store.Classify(fmt.Errorf("commit transaction: %w", err))
	}
	if err := s.checkReferences(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	committed = true
	return nil
}

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// consume must be called with mu held.
func (s *Store) consume(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

func (s *Store) checkReferences() error {
	for _, b := range s.st.borrows {
		if _, ok := s.st.books[b.BookID]; !ok {
			return fmt.Errorf("%w: borrow %s references missing book %s", store.ErrReferenced, b.ID, b.BookID)
		}
	}
	return nil
}

// with runs fn against the state. Inside a unit of work the lock is already
// held; otherwise it is taken for the duration of fn.
func (s *Store) with(q store.Querier, fn func(*state) error) error {
	switch q := q.(type) {
	case *tx:
		if q.store != s {
			return errors.New("memstore: querier belongs to another store")
		}
		if q.closed {
			return ErrClosedTx
		}
		return fn(&s.st)
	case *querier:
		if q.store != s {
			return errors.New("memstore: querier belongs to another store")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(&s.st)
	default:
		return fmt.Errorf("memstore: unsupported querier %T", q)
	}
}

// SeedBook stores book as if it had been committed.
func (s *Store) SeedBook(book catalog.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book.Available = catalog.DeriveAvailable(book.Copies)
	s.st.books[book.ID] = book
}

// Book returns the committed state of a book.
func (s *Store) Book(id uuid.UUID) (catalog.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.books[id]
	return b, ok
}

// Borrows returns every committed borrow.
func (s *Store) Borrows() []circulation.Borrow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.borrows)
}

// Events returns every committed event.
func (s *Store) Events() []eventlog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.events)
}

// Consistency counts invariant violations in the committed state.
func (s *Store) Consistency() store.Consistency {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report store.Consistency
	for _, b := range s.st.books {
		if b.Copies < 0 {
			report.NegativeCopies++
		}
		if b.Available != catalog.DeriveAvailable(b.Copies) {
			report.AvailabilityMismatch++
		}
	}
	for _, b := range s.st.borrows {
		if _, ok := s.st.books[b.BookID]; !ok {
			report.OrphanBorrows++
		}
	}
	return report
}

// CheckConsistency mirrors store.DB.CheckConsistency.
func (s *Store) CheckConsistency(context.Context) (store.Consistency, error) {
	return s.Consistency(), nil
}

// InsertBook implements catalog.Store.
func (s *Store) InsertBook(_ context.Context, q store.Querier, book *catalog.Book) error {
	return s.with(q, func(st *state) error {
		if err := s.consume(OpInsertBook); err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
		if book.Copies < 0 {
			return fmt.Errorf("insert book: %w", store.ErrConstraint)
		}
		if _, ok := st.books[book.ID]; ok {
			return fmt.Errorf("insert book: %w", store.ErrDuplicate)
		}
		if isbnTaken(st, book.ISBN, uuid.Nil) {
			return fmt.Errorf("insert book: %w", store.ErrDuplicate)
		}
		stored := *book
		stored.Available = catalog.DeriveAvailable(stored.Copies)
		st.books[book.ID] = stored
		return nil
	})
}

func isbnTaken(st *state, isbn string, except uuid.UUID) bool {
	for id, b := range st.books {
		if id != except && b.ISBN == isbn {
			return true
		}
	}
	return false
}

// GetBook implements catalog.Store.
func (s *Store) GetBook(_ context.Context, q store.Querier, id uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	err := s.with(q, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return catalog.NotFound(id)
		}
		book = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// LockBook implements catalog.Store. Units of work are already exclusive.
func (s *Store) LockBook(ctx context.Context, q store.Querier, id uuid.UUID) (*catalog.Book, error) {
	return s.GetBook(ctx, q, id)
}

// UpdateBook implements catalog.Store.
func (s *Store) UpdateBook(_ context.Context, q store.Querier, id uuid.UUID, patch catalog.BookPatch) (*catalog.Book, error) {
	var book catalog.Book
	err := s.with(q, func(st *state) error {
		if err := s.consume(OpUpdateBook); err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		b, ok := st.books[id]
		if !ok {
			return catalog.NotFound(id)
		}
		patch.ApplyTo(&b, s.now())
		if b.Copies < 0 {
			return fmt.Errorf("update book: %w", store.ErrConstraint)
		}
		if isbnTaken(st, b.ISBN, id) {
			return fmt.Errorf("update book: %w", store.ErrDuplicate)
		}
		st.books[id] = b
		book = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// DeleteBook implements catalog.Store. References are checked at commit.
func (s *Store) DeleteBook(_ context.Context, q store.Querier, id uuid.UUID) error {
	return s.with(q, func(st *state) error {
		if err := s.consume(OpDeleteBook); err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if _, ok := st.books[id]; !ok {
			return catalog.NotFound(id)
		}
		delete(st.books, id)
		return nil
	})
}

// ListBooks implements catalog.Store.
func (s *Store) ListBooks(_ context.Context, q store.Querier, filter catalog.Filter) (*catalog.Page, error) {
	var page catalog.Page
	err := s.with(q, func(st *state) error {
		matches := []catalog.Book{}
		for _, b := range st.books {
			if filter.Author != "" && b.Author != filter.Author {
				continue
			}
			if filter.Genre != "" && b.Genre != filter.Genre {
				continue
			}
			if filter.Available != nil && b.Available != *filter.Available {
				continue
			}
			matches = append(matches, b)
		}

		asc := filter.SortBy == catalog.SortAsc
		sortBooks(matches, asc)

		perPage, p := filter.ResultsPerPage, filter.Page
		if perPage <= 0 {
			perPage = catalog.DefaultResultsPerPage
		}
		if p <= 0 {
			p = 1
		}
		start := min((p-1)*perPage, len(matches))
		end := min(start+perPage, len(matches))

		page = catalog.Page{Books: matches[start:end], Total: len(matches)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func sortBooks(books []catalog.Book, asc bool) {
	sort.SliceStable(books, func(i, j int) bool {
		a, b := books[i], books[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		return strings.Compare(a.ID.String(), b.ID.String()) < 0
	})
}

// Authors implements catalog.Store.
func (s *Store) Authors(_ context.Context, q store.Querier) ([]string, error) {
	authors := []string{}
	err := s.with(q, func(st *state) error {
		for _, b := range st.books {
			if !slices.Contains(authors, b.Author) {
				authors = append(authors, b.Author)
			}
		}
		slices.Sort(authors)
		return nil
	})
	return authors, err
}

// Latest implements catalog.Store.
func (s *Store) Latest(_ context.Context, q store.Querier, limit int) ([]catalog.Book, error) {
	var books []catalog.Book
	err := s.with(q, func(st *state) error {
		for _, b := range st.books {
			books = append(books, b)
		}
		sortBooks(books, false)
		if limit > 0 && len(books) > limit {
			books = books[:limit]
		}
		return nil
	})
	return books, err
}

// InsertBorrow implements circulation.BorrowStore.
func (s *Store) InsertBorrow(_ context.Context, q store.Querier, borrow *circulation.Borrow) error {
	return s.with(q, func(st *state) error {
		if err := s.consume(OpInsertBorrow); err != nil {
			return fmt.Errorf("insert borrow: %w", err)
		}
		if borrow.Quantity < 1 {
			return fmt.Errorf("insert borrow: %w", store.ErrConstraint)
		}
		st.borrows = append(st.borrows, *borrow)
		return nil
	})
}

// Summary implements circulation.BorrowStore.
func (s *Store) Summary(_ context.Context, q store.Querier) ([]circulation.SummaryRow, error) {
	rows := []circulation.SummaryRow{}
	err := s.with(q, func(st *state) error {
		totals := make(map[uuid.UUID]int)
		for _, b := range st.borrows {
			totals[b.BookID] += b.Quantity
		}
		for id, total := range totals {
			book, ok := st.books[id]
			if !ok {
				continue
			}
			rows = append(rows, circulation.SummaryRow{
				Book:          circulation.BookRef{Title: book.Title, ISBN: book.ISBN},
				TotalQuantity: total,
			})
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Book.Title != rows[j].Book.Title {
				return rows[i].Book.Title < rows[j].Book.Title
			}
			return rows[i].Book.ISBN < rows[j].Book.ISBN
		})
		return nil
	})
	return rows, err
}

// Append implements the event log.
func (s *Store) Append(_ context.Context, q store.Querier, events ...eventlog.Event) error {
	return s.with(q, func(st *state) error {
		if err := s.consume(OpAppendEvent); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		for _, e := range events {
			if e.AggregateID == uuid.Nil {
				return eventlog.ErrNilAggregate
			}
			if e.EventType == "" {
				return eventlog.ErrEmptyEventType
			}
			st.nextID++
			e.ID = st.nextID
			e.CreatedAt = s.now()
			st.events = append(st.events, e)
		}
		return nil
	})
}

// Load implements the event log.
func (s *Store) Load(_ context.Context, aggregateID uuid.UUID) ([]eventlog.Event, error) {
	events := []eventlog.Event{}
	err := s.with(s.Reader(), func(st *state) error {
		for _, e := range st.events {
			if e.AggregateID == aggregateID {
				events = append(events, e)
			}
		}
		return nil
	})
	return events, err
}
