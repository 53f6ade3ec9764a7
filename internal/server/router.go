// internal/server/router.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/httpx"
	"librarium/internal/liberr"
	"librarium/internal/logging"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the router needs.
type Deps struct {
	Catalog     catalog.Service
	Circulation circulation.Service
	// Health is pinged by /healthz. Nil reports healthy.
	Health Pinger
	Logger logging.Logger

	RequestTimeout time.Duration
	WriteRateLimit rate.Limit
	WriteBurst     int
}

// NewRouter builds the API router.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(httpx.Timeout(d.RequestTimeout))

	r.NotFound(httpx.NotFound)
	r.MethodNotAllowed(httpx.MethodNotAllowed)

	r.Get("/healthz", healthz(d.Health, d.Logger))
	r.Get("/api", func(w http.ResponseWriter, _ *http.Request) {
		httpx.OK(w, http.StatusOK, "API route is working!!!", nil)
	})

	books := catalog.NewHandler(d.Catalog, d.Logger)
	borrows := circulation.NewHandler(d.Circulation, d.Logger)

	r.Group(func(r chi.Router) {
		r.Use(httpx.RateLimit(d.WriteRateLimit, d.WriteBurst))
		r.Route("/api/books", books.Routes)
		r.Route("/api/borrow", borrows.Routes)
	})

	return r
}

func healthz(p Pinger, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Ping(r.Context()); err != nil {
				httpx.WriteError(w, r, logger, liberr.Wrap(liberr.KindUnavailable, err, "Database is unreachable."))
				return
			}
		}
		httpx.OK(w, http.StatusOK, "ok", nil)
	}
}
