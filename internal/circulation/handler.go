// internal/circulation/handler.go
package circulation

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librarium/internal/httpx"
	"librarium/internal/liberr"
	"librarium/internal/logging"
)

type Handler struct {
	service Service
	logger  logging.Logger
}

func NewHandler(service Service, logger logging.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the borrow endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleSummary)
	r.Post("/", h.HandleBorrow)
}

type borrowRequest struct {
	Book     string `json:"book" validate:"required,uuid"`
	Quantity *int   `json:"quantity" validate:"required,min=1"`
	DueDate  string `json:"dueDate" validate:"required"`
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	dueDate, err := ParseDueDate(req.DueDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	result, err := h.service.CreateBorrow(r.Context(), BorrowRequest{
		BookID:   uuid.MustParse(req.Book),
		Quantity: *req.Quantity,
		DueDate:  dueDate,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.OK(w, http.StatusCreated, result.Message, result.Borrow)
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Summary(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	noun := "records"
	if len(rows) == 1 {
		noun = "record"
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("%d borrowed %s found.", len(rows), noun), rows)
}

// ParseDueDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp.
func ParseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, liberr.New(liberr.KindValidation,
		fmt.Sprintf("dueDate %q must be a date (YYYY-MM-DD) or an RFC 3339 timestamp", raw))
}
