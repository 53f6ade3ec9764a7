package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/httpx"
	"librarium/internal/inventory"
	"librarium/internal/server"
	"librarium/internal/testutil/memstore"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRouter(d server.Deps) http.Handler {
	mem := memstore.New()
	d.Catalog = catalog.NewService(mem, mem, mem)
	d.Circulation = circulation.NewService(mem, mem, inventory.NewLedger(mem), mem)
	return server.NewRouter(d)
}

func call(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestAPIRoot(t *testing.T) {
	rec, env := call(t, newRouter(server.Deps{}), http.MethodGet, "/api", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "API route is working!!!", env.Message)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestHealthz(t *testing.T) {
	rec, _ := call(t, newRouter(server.Deps{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	rec, env := call(t, newRouter(server.Deps{Health: down}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Database is unreachable.", env.Message)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	router := newRouter(server.Deps{})

	rec, env := call(t, router, http.MethodGet, "/api/nothing-here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Content not found for: /api/nothing-here.", env.Message)

	rec, env = call(t, router, http.MethodDelete, "/api/borrow", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed.", env.Message)
}

func TestWritesAreRateLimited(t *testing.T) {
	router := newRouter(server.Deps{WriteRateLimit: 0.001, WriteBurst: 1})

	rec, _ := call(t, router, http.MethodPost, "/api/borrow", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := call(t, router, http.MethodPost, "/api/borrow", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.False(t, env.Success)

	rec, _ = call(t, router, http.MethodGet, "/api/borrow", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}

func TestRecoversFromPanics(t *testing.T) {
	panicky := pingFunc(func(context.Context) error { panic("boom") })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	newRouter(server.Deps{Health: panicky}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestTimeoutReachesHandlers(t *testing.T) {
	var deadline time.Time
	probe := pingFunc(func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})

	call(t, newRouter(server.Deps{Health: probe, RequestTimeout: time.Second}), http.MethodGet, "/healthz", "")
	assert.False(t, deadline.IsZero())
}
