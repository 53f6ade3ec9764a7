// cmd/chaos/experiments.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/chaos"
	"librarium/internal/circulation"
	"librarium/internal/store"
)

// Library is the part of the API the experiments drive.
type Library interface {
	StockBook(ctx context.Context, book catalog.NewBook) (*catalog.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	Borrow(ctx context.Context, req circulation.BorrowRequest) (*circulation.BorrowResult, error)
}

// ConsistencyChecker reports inventory invariant violations.
type ConsistencyChecker interface {
	CheckConsistency(ctx context.Context) (store.Consistency, error)
}

func inventoryViolations(checker ConsistencyChecker) chaos.Metric {
	return chaos.Metric{
		Name: "inventory_violations",
		Query: func(ctx context.Context) (float64, error) {
			report, err := checker.CheckConsistency(ctx)
			if err != nil {
				return 0, err
			}
			return float64(report.Violations()), nil
		},
		Threshold: chaos.Threshold{Operator: "==", Value: 0},
	}
}

func zero(v float64) bool { return v == 0 }

// burst is the outcome of one round of concurrent borrows against one book.
type burst struct {
	stock     int
	book      atomic.Pointer[uuid.UUID]
	committed atomic.Int64
	failed    atomic.Int64
}

func (b *burst) oversold() float64 {
	if over := b.committed.Load() - int64(b.stock); over > 0 {
		return float64(over)
	}
	return 0
}

// drift is how far the stored copies are from stock minus committed borrows.
func (b *burst) drift(ctx context.Context, lib Library) (float64, error) {
	id := b.book.Load()
	if id == nil {
		return 0, nil
	}
	book, err := lib.GetBook(ctx, *id)
	if err != nil {
		return 0, fmt.Errorf("read drill book: %w", err)
	}
	d := int64(b.stock) - b.committed.Load() - int64(book.Copies)
	if d < 0 {
		d = -d
	}
	return float64(d), nil
}

// run stocks a fresh book and fires concurrency single-copy borrows at it.
func (b *burst) run(ctx context.Context, lib Library, concurrency int) error {
	book, err := lib.StockBook(ctx, catalog.NewBook{
		Title:       "Chaos drill " + time.Now().Format(time.RFC3339Nano),
		Author:      "game day",
		Genre:       catalog.GenreUncategorized,
		ISBN:        uuid.NewString(),
		Description: "Stocked by the chaos runner.",
		Copies:      b.stock,
	})
	if err != nil {
		return fmt.Errorf("stock drill book: %w", err)
	}
	b.book.Store(&book.ID)

	due := time.Now().AddDate(0, 0, 14)
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lib.Borrow(ctx, circulation.BorrowRequest{BookID: book.ID, Quantity: 1, DueDate: due})
			if err != nil {
				b.failed.Add(1)
				return
			}
			b.committed.Add(1)
		}()
	}
	wg.Wait()
	return nil
}

func burstMetrics(b *burst, lib Library) []chaos.Metric {
	return []chaos.Metric{
		{
			Name:      "oversold_copies",
			Query:     func(context.Context) (float64, error) { return b.oversold(), nil },
			Threshold: chaos.Threshold{Operator: "==", Value: 0},
		},
		{
			Name:      "ledger_drift",
			Query:     func(ctx context.Context) (float64, error) { return b.drift(ctx, lib) },
			Threshold: chaos.Threshold{Operator: "==", Value: 0},
		},
	}
}

// ConcurrentBorrowRace fires many borrows at one book at once. Exactly stock
// of them may commit and the stored copies must match.
func ConcurrentBorrowRace(lib Library, checker ConsistencyChecker, stock, concurrency int, observe time.Duration) chaos.Experiment {
	b := &burst{stock: stock}

	return chaos.Experiment{
		Name:        "concurrent-borrow-race",
		Hypothesis:  "Concurrent borrows of one book never commit more copies than are in stock",
		SteadyState: append([]chaos.Metric{inventoryViolations(checker)}, burstMetrics(b, lib)...),
		Method: []chaos.Action{{
			Type:    "concurrent-requests",
			Target:  "circulation",
			Execute: func(ctx context.Context) error { return b.run(ctx, lib, concurrency) },
		}},
		Validation: []chaos.Assertion{
			{Metric: "inventory_violations", Condition: zero, Message: "No inventory invariant may break"},
			{Metric: "oversold_copies", Condition: zero, Message: "No more copies may be lent than were stocked"},
			{Metric: "ledger_drift", Condition: zero, Message: "Stored copies must equal stock minus committed borrows"},
		},
		Duration: observe,
	}
}

// ConnectionPoolExhaustion holds conns database connections for holdFor
// while borrowing. Borrows may fail, but none may leave the inventory
// inconsistent once the connections are back.
func ConnectionPoolExhaustion(db *sql.DB, lib Library, checker ConsistencyChecker, conns int, holdFor time.Duration, stock, concurrency int, observe time.Duration) chaos.Experiment {
	b := &burst{stock: stock}

	var mu sync.Mutex
	var held []*sql.Conn
	release := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range held {
			conn.Close()
		}
		held = nil
		return nil
	}

	return chaos.Experiment{
		Name:        "connection-pool-exhaustion",
		Hypothesis:  "Borrows under connection starvation fail cleanly without corrupting inventory",
		SteadyState: append([]chaos.Metric{inventoryViolations(checker)}, burstMetrics(b, lib)...),
		Method: []chaos.Action{
			{
				Type:   "exhaust-connections",
				Target: "postgres",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					defer mu.Unlock()
					time.AfterFunc(holdFor, func() { release(context.Background()) })
					for range conns {
						conn, err := db.Conn(ctx)
						if err != nil {
							return fmt.Errorf("held %d connections: %w", len(held), err)
						}
						held = append(held, conn)
					}
					return nil
				},
			},
			{
				Type:    "concurrent-requests",
				Target:  "circulation",
				Execute: func(ctx context.Context) error { return b.run(ctx, lib, concurrency) },
			},
		},
		Rollback: []chaos.Action{{Type: "release-connections", Target: "postgres", Execute: release}},
		Validation: []chaos.Assertion{
			{Metric: "inventory_violations", Condition: zero, Message: "No inventory invariant may break"},
			{Metric: "oversold_copies", Condition: zero, Message: "No more copies may be lent than were stocked"},
			{Metric: "ledger_drift", Condition: zero, Message: "Stored copies must equal stock minus committed borrows"},
		},
		Duration: observe,
	}
}
