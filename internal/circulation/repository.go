// internal/circulation/repository.go
package circulation

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"librarium/internal/store"
)

// BorrowStore persists borrow records.
type BorrowStore interface {
	InsertBorrow(ctx context.Context, q store.Querier, borrow *Borrow) error
	Summary(ctx context.Context, q store.Querier) ([]SummaryRow, error)
}

// Repository is the Postgres BorrowStore.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertBorrow stages a borrow row in q. The book reference is checked at
// commit, so a missing book is first reported by the ledger.
func (r *Repository) InsertBorrow(ctx context.Context, q store.Querier, borrow *Borrow) error {
	query := `
		INSERT INTO borrows (id, book_id, quantity, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.ExecContext(ctx, query,
		borrow.ID,
		borrow.BookID,
		borrow.Quantity,
		borrow.DueDate,
		borrow.CreatedAt,
		borrow.UpdatedAt,
	)
	if err != nil {
		return store.Classify(fmt.Errorf("insert borrow: %w", err))
	}
	return nil
}

// Summary totals borrowed quantities per book.
func (r *Repository) Summary(ctx context.Context, q store.Querier) ([]SummaryRow, error) {
	rows := []SummaryRow{}
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT k.title AS "book.title", k.isbn AS "book.isbn", SUM(b.quantity) AS total_quantity
		FROM borrows b
		JOIN books k ON k.id = b.book_id
		GROUP BY k.id, k.title, k.isbn
		ORDER BY k.title, k.isbn
	`)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("borrow summary: %w", err))
	}
	return rows, nil
}
