// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"librarium/internal/eventlog"
	"librarium/internal/liberr"
	"librarium/internal/logging"
	"librarium/internal/store"
)

const defaultCoverExpiry = 15 * time.Minute

// Option configures the catalog service.
type Option func(*service)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithCovers enables cover images. A zero expiry uses 15 minutes.
func WithCovers(covers CoverStore, expiry time.Duration) Option {
	return func(s *service) {
		s.covers = covers
		if expiry > 0 {
			s.coverExpiry = expiry
		}
	}
}

// service implements the Service interface.
type service struct {
	db          store.Database
	books       Store
	events      EventLog
	covers      CoverStore
	coverExpiry time.Duration
	logger      logging.Logger
	now         func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(db store.Database, books Store, events EventLog, opts ...Option) Service {
	s := &service{
		db:          db,
		books:       books,
		events:      events,
		coverExpiry: defaultCoverExpiry,
		logger:      logging.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StockBook adds a new title to the catalog.
func (s *service) StockBook(ctx context.Context, input NewBook) (*Book, error) {
	if input.Copies < 0 {
		return nil, liberr.New(liberr.KindValidation, "copies must not be negative")
	}
	if input.Genre != "" && !input.Genre.Valid() {
		return nil, liberr.New(liberr.KindValidation, fmt.Sprintf("unknown genre %q", input.Genre))
	}

	book := input.Book(uuid.New(), s.now().UTC())

	err := s.db.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := s.books.InsertBook(ctx, q, &book); err != nil {
			return err
		}
		return s.record(ctx, q, book.ID, eventlog.BookStocked, book)
	})
	if err != nil {
		return nil, duplicateISBN(err, book.ISBN)
	}

	s.logger.Info("book stocked", "book_id", book.ID, "isbn", book.ISBN, "copies", book.Copies)
	return &book, nil
}

// GetBook retrieves a book from the catalog by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.books.GetBook(ctx, s.db.Reader(), id)
}

// UpdateBook applies a partial update. Availability follows the new copy
// count when copies are part of the patch.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, patch BookPatch) (*Book, error) {
	if patch.Copies != nil && *patch.Copies < 0 {
		return nil, liberr.New(liberr.KindValidation, "copies must not be negative")
	}
	if patch.Genre != nil && !patch.Genre.Valid() {
		return nil, liberr.New(liberr.KindValidation, fmt.Sprintf("unknown genre %q", *patch.Genre))
	}
	patch = patch.Normalized()

	if patch.IsEmpty() {
		return s.GetBook(ctx, id)
	}

	var updated *Book
	err := s.db.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		book, err := s.books.UpdateBook(ctx, q, id, patch)
		if err != nil {
			return err
		}
		updated = book
		return s.record(ctx, q, id, eventlog.BookEdited, patch)
	})
	if err != nil {
		isbn := ""
		if patch.ISBN != nil {
			isbn = *patch.ISBN
		}
		return nil, duplicateISBN(err, isbn)
	}

	return updated, nil
}

// DeleteBook removes a book that has no borrow records.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := s.books.DeleteBook(ctx, q, id); err != nil {
			return err
		}
		return s.record(ctx, q, id, eventlog.BookRemoved, map[string]uuid.UUID{"id": id})
	})
	if errors.Is(err, store.ErrReferenced) {
		return liberr.Wrap(liberr.KindInUse, err,
			fmt.Sprintf("Book with bookId: %s has borrow records and can't be deleted!", id))
	}
	if err != nil {
		return err
	}

	s.logger.Info("book removed", "book_id", id)
	return nil
}

// ListBooks returns a filtered page of the catalog.
func (s *service) ListBooks(ctx context.Context, filter Filter) (*Page, error) {
	if filter.Genre != "" && !filter.Genre.Valid() {
		return nil, liberr.New(liberr.KindValidation, fmt.Sprintf("unknown genre %q", filter.Genre))
	}
	if filter.Author != "" {
		filter.Author = NormalizeAuthor(filter.Author)
	}
	return s.books.ListBooks(ctx, s.db.Reader(), filter)
}

// Authors lists every distinct author.
func (s *service) Authors(ctx context.Context) ([]string, error) {
	return s.books.Authors(ctx, s.db.Reader())
}

// Latest returns the five newest books.
func (s *service) Latest(ctx context.Context) ([]Book, error) {
	return s.books.Latest(ctx, s.db.Reader(), latestLimit)
}

// AttachCover uploads a cover image and points the book at it.
func (s *service) AttachCover(ctx context.Context, id uuid.UUID, cover Cover) (*Book, error) {
	if s.covers == nil {
		return nil, errCoversDisabled
	}
	if _, err := s.GetBook(ctx, id); err != nil {
		return nil, err
	}

	if err := s.covers.PutObject(ctx, CoverKey(id), cover.Body, cover.Size, cover.ContentType); err != nil {
		return nil, fmt.Errorf("upload cover: %w", err)
	}

	uri := CoverURI(id)
	var updated *Book
	err := s.db.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		book, err := s.books.UpdateBook(ctx, q, id, BookPatch{ImageURI: &uri})
		if err != nil {
			return err
		}
		updated = book
		return s.record(ctx, q, id, eventlog.CoverAttached, map[string]string{"imageURI": uri})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cover attached", "book_id", id, "size", cover.Size)
	return updated, nil
}

// CoverURL presigns a download link for the book's cover.
func (s *service) CoverURL(ctx context.Context, id uuid.UUID) (string, error) {
	if s.covers == nil {
		return "", errCoversDisabled
	}
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	if book.ImageURI == nil {
		return "", liberr.Wrap(liberr.KindNotFound, ErrBookNotFound,
			fmt.Sprintf("Book with bookId: %s has no cover!", id))
	}

	url, err := s.covers.PresignedURL(ctx, CoverKey(id), s.coverExpiry)
	if err != nil {
		return "", fmt.Errorf("presign cover: %w", err)
	}
	return url, nil
}

// History returns the book's event log, oldest first.
func (s *service) History(ctx context.Context, id uuid.UUID) ([]eventlog.Event, error) {
	events, err := s.events.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if _, err := s.GetBook(ctx, id); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *service) record(ctx context.Context, q store.Querier, id uuid.UUID, eventType string, data any) error {
	event, err := eventlog.NewEvent(id, eventlog.AggregateBook, eventType, data)
	if err != nil {
		return err
	}
	return s.events.Append(ctx, q, event)
}

var errCoversDisabled = liberr.New(liberr.KindUnavailable, "Cover storage is not configured.")

// CoverKey is the object key of a book's cover.
func CoverKey(id uuid.UUID) string {
	return "covers/" + id.String()
}

// CoverURI is the API path serving a book's cover.
func CoverURI(id uuid.UUID) string {
	return "/api/books/" + id.String() + "/cover"
}

func duplicateISBN(err error, isbn string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return liberr.Wrap(liberr.KindDuplicate, err, fmt.Sprintf("Book with ISBN: %s already exists!", isbn))
	}
	return err
}
