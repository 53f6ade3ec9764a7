// internal/catalog/service.go
package catalog

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"librarium/internal/eventlog"
	"librarium/internal/store"
)

// Service defines the interface for the catalog service.
type Service interface {
	StockBook(ctx context.Context, input NewBook) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, patch BookPatch) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	ListBooks(ctx context.Context, filter Filter) (*Page, error)
	Authors(ctx context.Context) ([]string, error)
	Latest(ctx context.Context) ([]Book, error)
	AttachCover(ctx context.Context, id uuid.UUID, cover Cover) (*Book, error)
	CoverURL(ctx context.Context, id uuid.UUID) (string, error)
	History(ctx context.Context, id uuid.UUID) ([]eventlog.Event, error)
}

// EventLog records catalog changes. Append joins the caller's unit of work.
type EventLog interface {
	Append(ctx context.Context, q store.Querier, events ...eventlog.Event) error
	Load(ctx context.Context, aggregateID uuid.UUID) ([]eventlog.Event, error)
}

// CoverStore keeps cover images.
type CoverStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Cover is an uploaded cover image.
type Cover struct {
	Body        io.Reader
	Size        int64
	ContentType string
}
