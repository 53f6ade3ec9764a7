// internal/circulation/implementation.go
package circulation

import (
	"context"

	"librarium/internal/logging"
	"librarium/internal/store"
)

// service implements the Service interface.
type service struct {
	coordinator *Coordinator
	db          store.Database
	borrows     BorrowStore
	cache       SummaryCache
	logger      logging.Logger
}

// NewService creates a new circulation service instance.
func NewService(db store.Database, borrows BorrowStore, ledger Ledger, events EventRecorder, opts ...Option) Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &service{
		coordinator: NewCoordinator(db, borrows, ledger, events, opts...),
		db:          db,
		borrows:     borrows,
		cache:       o.cache,
		logger:      o.logger,
	}
}

// CreateBorrow records a borrow and drops the cached summary once it has
// committed.
func (s *service) CreateBorrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error) {
	result, err := s.coordinator.CreateBorrow(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("summary cache invalidation failed", "error", err)
		}
	}
	return result, nil
}

// Summary returns borrowed totals per book, served from the cache when
// possible.
func (s *service) Summary(ctx context.Context) ([]SummaryRow, error) {
	if s.cache != nil {
		rows, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.Warn("summary cache read failed", "error", err)
		}
		if ok {
			return rows, nil
		}
	}

	rows, err := s.borrows.Summary(ctx, s.db.Reader())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, rows); err != nil {
			s.logger.Warn("summary cache write failed", "error", err)
		}
	}
	return rows, nil
}
