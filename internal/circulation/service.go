// internal/circulation/service.go
package circulation

import (
	"context"
)

// Service defines the interface for the circulation service.
type Service interface {
	CreateBorrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error)
	Summary(ctx context.Context) ([]SummaryRow, error)
}
