// internal/circulation/cache.go
package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SummaryCacheKey holds the cached borrow summary.
const SummaryCacheKey = "library:borrow-summary"

// SummaryCache caches the borrow summary between borrows.
type SummaryCache interface {
	Get(ctx context.Context) ([]SummaryRow, bool, error)
	Set(ctx context.Context, rows []SummaryRow) error
	Invalidate(ctx context.Context) error
}

// RedisSummaryCache stores the summary as JSON under SummaryCacheKey.
type RedisSummaryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSummaryCache builds a Redis-backed cache. A non-positive ttl keeps
// entries until the next invalidation.
func NewRedisSummaryCache(client redis.UniversalClient, ttl time.Duration) *RedisSummaryCache {
	return &RedisSummaryCache{client: client, ttl: ttl}
}

// Get returns the cached summary and whether it was present.
func (c *RedisSummaryCache) Get(ctx context.Context) ([]SummaryRow, bool, error) {
	raw, err := c.client.Get(ctx, SummaryCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read summary cache: %w", err)
	}

	var rows []SummaryRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false, fmt.Errorf("decode summary cache: %w", err)
	}
	return rows, true, nil
}

// Set stores rows.
func (c *RedisSummaryCache) Set(ctx context.Context, rows []SummaryRow) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode summary cache: %w", err)
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, SummaryCacheKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write summary cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached summary.
func (c *RedisSummaryCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, SummaryCacheKey).Err(); err != nil {
		return fmt.Errorf("invalidate summary cache: %w", err)
	}
	return nil
}
