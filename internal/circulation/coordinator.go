// internal/circulation/coordinator.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/catalog"
	"librarium/internal/chaos"
	"librarium/internal/eventlog"
	"librarium/internal/liberr"
	"librarium/internal/logging"
	"librarium/internal/store"
)

// Fault points inside a borrow unit of work.
const (
	PointBorrowStaged = "borrow.staged"
	PointBeforeCommit = "borrow.before_commit"
)

// Ledger decrements copies inside the caller's unit of work.
type Ledger interface {
	DecrementCopies(ctx context.Context, q store.Querier, bookID uuid.UUID, quantity int) (*catalog.Book, error)
}

// EventRecorder appends events inside the caller's unit of work.
type EventRecorder interface {
	Append(ctx context.Context, q store.Querier, events ...eventlog.Event) error
}

// Option configures the coordinator and the service.
type Option func(*options)

type options struct {
	logger logging.Logger
	now    func() time.Time
	faults *chaos.Injector
	cache  SummaryCache
}

func defaultOptions() options {
	return options{logger: logging.Discard(), now: time.Now}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFaults attaches a fault injector. Without one no faults fire.
func WithFaults(faults *chaos.Injector) Option {
	return func(o *options) { o.faults = faults }
}

// WithSummaryCache enables caching of the borrow summary.
func WithSummaryCache(cache SummaryCache) Option {
	return func(o *options) { o.cache = cache }
}

// Coordinator records borrows. The borrow row, the copy decrement and the
// BorrowRecorded event commit together or not at all.
type Coordinator struct {
	tx      store.Transactor
	borrows BorrowStore
	ledger  Ledger
	events  EventRecorder
	opts    options
	tracer  trace.Tracer
	counter metric.Int64Counter
}

// NewCoordinator wires a coordinator.
func NewCoordinator(tx store.Transactor, borrows BorrowStore, ledger Ledger, events EventRecorder, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	counter, err := otel.Meter("librarium/circulation").Int64Counter("library.borrows",
		metric.WithDescription("Borrow attempts by outcome"),
	)
	if err != nil {
		o.logger.Warn("borrow counter unavailable", "error", err)
		counter = noop.Int64Counter{}
	}

	return &Coordinator{
		tx:      tx,
		borrows: borrows,
		ledger:  ledger,
		events:  events,
		opts:    o,
		tracer:  otel.Tracer("librarium/circulation"),
		counter: counter,
	}
}

// CreateBorrow records a borrow of req.Quantity copies. Any failure rolls the
// whole unit of work back and is returned unchanged; nothing is retried.
func (c *Coordinator) CreateBorrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error) {
	ctx, span := c.tracer.Start(ctx, "circulation.create_borrow",
		trace.WithAttributes(
			attribute.String("book.id", req.BookID.String()),
			attribute.Int("quantity", req.Quantity),
		),
	)
	defer span.End()

	if err := validateRequest(req); err != nil {
		c.record(ctx, "rejected")
		return nil, err
	}

	now := c.opts.now().UTC()
	borrow := Borrow{
		ID:        uuid.New(),
		BookID:    req.BookID,
		Quantity:  req.Quantity,
		DueDate:   dateOnly(req.DueDate),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := c.tx.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := c.borrows.InsertBorrow(ctx, q, &borrow); err != nil {
			return err
		}
		span.AddEvent("borrow.staged")
		if err := c.opts.faults.Fire(ctx, PointBorrowStaged); err != nil {
			return err
		}

		book, err := c.ledger.DecrementCopies(ctx, q, borrow.BookID, borrow.Quantity)
		if err != nil {
			return err
		}
		span.AddEvent("ledger.checked")

		event, err := eventlog.NewEvent(borrow.ID, eventlog.AggregateBorrow, eventlog.BorrowRecorded, BorrowRecordedEvent{
			BorrowID:      borrow.ID,
			BookID:        borrow.BookID,
			Quantity:      borrow.Quantity,
			DueDate:       borrow.DueDate,
			CopiesLeft:    book.Copies,
			BookAvailable: book.Available,
		})
		if err != nil {
			return err
		}
		if err := c.events.Append(ctx, q, event); err != nil {
			return err
		}

		return c.opts.faults.Fire(ctx, PointBeforeCommit)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "borrow aborted")
		c.record(ctx, "aborted")
		c.opts.logger.Warn("borrow aborted",
			"book_id", req.BookID,
			"quantity", req.Quantity,
			"kind", liberr.KindOf(err).String(),
			"error", err,
		)
		return nil, err
	}

	c.record(ctx, "committed")
	c.opts.logger.Info("borrow committed",
		"borrow_id", borrow.ID,
		"book_id", borrow.BookID,
		"quantity", borrow.Quantity,
	)

	return &BorrowResult{Borrow: borrow, Message: Confirmation(borrow.DueDate)}, nil
}

func (c *Coordinator) record(ctx context.Context, outcome string) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func validateRequest(req BorrowRequest) error {
	switch {
	case req.BookID == uuid.Nil:
		return liberr.New(liberr.KindValidation, "book is required")
	case req.Quantity < 1:
		return liberr.New(liberr.KindValidation, "quantity must be at least 1")
	case req.DueDate.IsZero():
		return liberr.New(liberr.KindValidation, "dueDate is required")
	}
	return nil
}

// dateOnly keeps the calendar date of t, as stored in a DATE column.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
