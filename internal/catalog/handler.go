// internal/catalog/handler.go
package catalog

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librarium/internal/httpx"
	"librarium/internal/liberr"
	"librarium/internal/logging"
)

const maxCoverBytes = 5 << 20

type Handler struct {
	service Service
	logger  logging.Logger
}

func NewHandler(service Service, logger logging.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the book endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/authors", h.HandleAuthors)
	r.Get("/latest", h.HandleLatest)
	r.Route("/{bookID}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Put("/", h.HandleUpdate)
		r.Delete("/", h.HandleDelete)
		r.Get("/events", h.HandleHistory)
		r.Get("/cover", h.HandleGetCover)
		r.Put("/cover", h.HandlePutCover)
	})
}

// createBookRequest accepts available for compatibility; it is never stored.
type createBookRequest struct {
	Title       string  `json:"title" validate:"required"`
	Author      string  `json:"author" validate:"required"`
	Genre       string  `json:"genre" validate:"omitempty,oneof=Fiction Non-fiction Science History Biography Fantasy Uncategorized"`
	ISBN        string  `json:"isbn" validate:"required"`
	Description string  `json:"description" validate:"required"`
	Copies      *int    `json:"copies" validate:"required,min=0"`
	Available   *bool   `json:"available"`
	ImageURI    *string `json:"imageURI"`
}

type updateBookRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1"`
	Author      *string `json:"author" validate:"omitempty,min=1"`
	Genre       *string `json:"genre" validate:"omitempty,oneof=Fiction Non-fiction Science History Biography Fantasy Uncategorized"`
	ISBN        *string `json:"isbn" validate:"omitempty,min=1"`
	Description *string `json:"description"`
	Copies      *int    `json:"copies" validate:"omitempty,min=0"`
	Available   *bool   `json:"available"`
	ImageURI    *string `json:"imageURI"`
}

func (req updateBookRequest) patch() BookPatch {
	p := BookPatch{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Description: req.Description,
		Copies:      req.Copies,
		ImageURI:    req.ImageURI,
	}
	if req.Genre != nil {
		g := Genre(*req.Genre)
		p.Genre = &g
	}
	return p
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	page, err := h.service.ListBooks(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.List(w, fmt.Sprintf("%d %s provided.", len(page.Books), plural(len(page.Books), "book", "books")), page.Books, page.Total)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.StockBook(r.Context(), NewBook{
		Title:       req.Title,
		Author:      req.Author,
		Genre:       Genre(req.Genre),
		ISBN:        req.ISBN,
		Description: req.Description,
		Copies:      *req.Copies,
		ImageURI:    req.ImageURI,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.OK(w, http.StatusCreated, fmt.Sprintf("'%s' listed.", book.Title), book)
}

func (h *Handler) HandleAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.service.Authors(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("%d %s found.", len(authors), plural(len(authors), "author", "authors")), authors)
}

func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Latest(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Latest books", books)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("%s found.", book.Title), book)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}

	var req updateBookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, req.patch())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("%s updated.", book.Title), book)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("Book with bookId: %s deleted.", id), struct{}{})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("%d %s found.", len(events), plural(len(events), "event", "events")), events)
}

func (h *Handler) HandlePutCover(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if r.ContentLength <= 0 {
		httpx.WriteError(w, r, h.logger, liberr.New(liberr.KindValidation, "Cover image is empty or has no Content-Length."))
		return
	}
	if r.ContentLength > maxCoverBytes {
		httpx.WriteError(w, r, h.logger, liberr.New(liberr.KindValidation, "Cover image is too large."))
		return
	}

	book, err := h.service.AttachCover(r.Context(), id, Cover{
		Body:        http.MaxBytesReader(w, r.Body, maxCoverBytes),
		Size:        r.ContentLength,
		ContentType: contentType,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("Cover attached to %s.", book.Title), book)
}

func (h *Handler) HandleGetCover(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}

	url, err := h.service.CoverURL(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// bookID parses the path id. Malformed ids answer 404 like missing books.
func (h *Handler) bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "bookID")
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.WriteError(w, r, h.logger, liberr.Wrap(liberr.KindNotFound, ErrBookNotFound,
			fmt.Sprintf("Book with bookId: %s not found!", raw)))
		return uuid.Nil, false
	}
	return id, true
}

var filterKeys = []string{"author", "genre", "available", "sortBy", "resultsPerPage", "page"}

// ParseFilter reads listing query parameters. Unknown keys and out-of-range
// values are rejected.
func ParseFilter(query map[string][]string) (Filter, error) {
	mismatch := liberr.New(liberr.KindValidation, "Mismatch query filters.")

	filter := Filter{SortBy: SortDesc, ResultsPerPage: DefaultResultsPerPage, Page: 1}
	for key, values := range query {
		if !slices.Contains(filterKeys, key) || len(values) != 1 {
			return Filter{}, mismatch
		}
		value := values[0]

		switch key {
		case "author":
			filter.Author = value
		case "genre":
			if !Genre(value).Valid() {
				return Filter{}, mismatch
			}
			filter.Genre = Genre(value)
		case "available":
			switch value {
			case "true", "false":
				available := value == "true"
				filter.Available = &available
			default:
				return Filter{}, mismatch
			}
		case "sortBy":
			if value != SortAsc && value != SortDesc {
				return Filter{}, mismatch
			}
			filter.SortBy = value
		case "resultsPerPage":
			n, err := strconv.Atoi(value)
			if err != nil || !slices.Contains(PageSizes, n) {
				return Filter{}, mismatch
			}
			filter.ResultsPerPage = n
		case "page":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return Filter{}, mismatch
			}
			filter.Page = n
		}
	}
	return filter, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
