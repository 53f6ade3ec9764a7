package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/store"
)

var (
	ErrEmptyEventType = errors.New("event type must not be empty")
	ErrNilAggregate   = errors.New("aggregate id must not be nil")
)

// Aggregate types.
const (
	AggregateBook   = "book"
	AggregateBorrow = "borrow"
)

// Event types.
const (
	BookStocked    = "BookStocked"
	BookEdited     = "BookEdited"
	BookRemoved    = "BookRemoved"
	CoverAttached  = "CoverAttached"
	BorrowRecorded = "BorrowRecorded"
)

// Event is one immutable entry in the log.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregateId" db:"aggregate_id"`
	AggregateType string          `json:"aggregateType" db:"aggregate_type"`
	EventType     string          `json:"eventType" db:"event_type"`
	EventData     json.RawMessage `json:"eventData" db:"event_data"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// NewEvent marshals data into an event for the given aggregate.
func NewEvent(aggregateID uuid.UUID, aggregateType, eventType string, data any) (Event, error) {
	if aggregateID == uuid.Nil {
		return Event{}, ErrNilAggregate
	}
	if eventType == "" {
		return Event{}, ErrEmptyEventType
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event data: %w", eventType, err)
	}

	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     payload,
	}, nil
}

// Log is an append-only event table. Appends always join the caller's unit
// of work so an event is visible exactly when the change it describes is.
type Log struct {
	db     store.Querier
	tracer trace.Tracer
}

// New creates a log that reads through db.
func New(db store.Querier) *Log {
	return &Log{
		db:     db,
		tracer: otel.Tracer("librarium/eventlog"),
	}
}

// Append inserts events within q.
func (l *Log) Append(ctx context.Context, q store.Querier, events ...Event) error {
	ctx, span := l.tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	for i, event := range events {
		if event.AggregateID == uuid.Nil {
			return ErrNilAggregate
		}
		if event.EventType == "" {
			return ErrEmptyEventType
		}

		var metadata any
		if len(event.Metadata) > 0 {
			metadata = string(event.Metadata)
		}

		var eventID int64
		err := q.QueryRowxContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, event.AggregateID, event.AggregateType, event.EventType, string(event.EventData), metadata, time.Now().UTC()).Scan(&eventID)
		if err != nil {
			span.RecordError(err)
			return store.Classify(fmt.Errorf("insert event %d: %w", i, err))
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.String("event.type", event.EventType),
		))
	}

	return nil
}

// Load returns all events of an aggregate, oldest first.
func (l *Log) Load(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	events := []Event{}
	err := sqlx.SelectContext(ctx, l.db, &events, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, COALESCE(metadata, '{}'::jsonb) AS metadata, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY id ASC
	`, aggregateID)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("query events: %w", err))
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Stream returns up to batchSize events with id greater than fromID.
func (l *Log) Stream(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	events := []Event{}
	err := sqlx.SelectContext(ctx, l.db, &events, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, COALESCE(metadata, '{}'::jsonb) AS metadata, created_at
		FROM events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("query event stream: %w", err))
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}
