// internal/storage/breaker.go
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sony/gobreaker"

	"librarium/internal/liberr"
	"librarium/internal/logging"
)

// ErrUnavailable is returned when the object store fails or the breaker is open.
var ErrUnavailable = liberr.New(liberr.KindUnavailable, "Cover storage is unavailable.")

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trips after five consecutive failures for 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// BreakerStore guards an ObjectStore with a circuit breaker so a failing
// object store does not hold up catalog requests.
type BreakerStore struct {
	next ObjectStore
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next.
func NewBreakerStore(next ObjectStore, settings BreakerSettings, logger logging.Logger) *BreakerStore {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "object-store",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a storage failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

// State reports the breaker state (closed, half-open, open).
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

// PutObject implements ObjectStore.
func (b *BreakerStore) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.PutObject(ctx, key, r, size, contentType)
	})
	return unavailable(err)
}

// PresignedURL implements ObjectStore.
func (b *BreakerStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := b.cb.Execute(func() (any, error) {
		return b.next.PresignedURL(ctx, key, expiry)
	})
	if err != nil {
		return "", unavailable(err)
	}
	return url.(string), nil
}

// DeleteObject implements ObjectStore.
func (b *BreakerStore) DeleteObject(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.DeleteObject(ctx, key)
	})
	return unavailable(err)
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrUnavailable, err)
}
