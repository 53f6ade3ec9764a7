// internal/clients/library_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/httpx"
	"librarium/internal/liberr"
)

// APIError is a failure reported by the API in its error envelope.
type APIError struct {
	StatusCode int
	Message    string
	Body       httpx.ErrorBody
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// Kind maps the envelope kind back to liberr so callers can branch on it.
func (e *APIError) Kind() liberr.Kind {
	for k := liberr.KindInternal; k <= liberr.KindUnavailable; k++ {
		if k.String() == e.Body.Kind {
			return k
		}
	}
	return liberr.KindInternal
}

// LibraryClient talks to the library HTTP API.
type LibraryClient struct {
	baseURL string
	http    *http.Client
}

// NewLibraryClient creates a client for the API rooted at baseURL. A nil
// httpClient uses a client with a 10s timeout.
func NewLibraryClient(baseURL string, httpClient *http.Client) *LibraryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &LibraryClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type stockBookRequest struct {
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Genre       string  `json:"genre,omitempty"`
	ISBN        string  `json:"isbn"`
	Description string  `json:"description"`
	Copies      int     `json:"copies"`
	ImageURI    *string `json:"imageURI,omitempty"`
}

// StockBook lists a new book.
func (c *LibraryClient) StockBook(ctx context.Context, book catalog.NewBook) (*catalog.Book, error) {
	var created catalog.Book
	err := c.do(ctx, http.MethodPost, "/api/books", stockBookRequest{
		Title:       book.Title,
		Author:      book.Author,
		Genre:       string(book.Genre),
		ISBN:        book.ISBN,
		Description: book.Description,
		Copies:      book.Copies,
		ImageURI:    book.ImageURI,
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetBook fetches a book by id.
func (c *LibraryClient) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/books/"+id.String(), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

type borrowRequest struct {
	Book     uuid.UUID `json:"book"`
	Quantity int       `json:"quantity"`
	DueDate  string    `json:"dueDate"`
}

// Borrow records a borrow and returns it with the confirmation message.
func (c *LibraryClient) Borrow(ctx context.Context, req circulation.BorrowRequest) (*circulation.BorrowResult, error) {
	var result circulation.BorrowResult
	msg, err := c.call(ctx, http.MethodPost, "/api/borrow", borrowRequest{
		Book:     req.BookID,
		Quantity: req.Quantity,
		DueDate:  req.DueDate.Format(time.DateOnly),
	}, &result.Borrow)
	if err != nil {
		return nil, err
	}
	result.Message = msg
	return &result, nil
}

// Summary returns borrowed totals per book.
func (c *LibraryClient) Summary(ctx context.Context) ([]circulation.SummaryRow, error) {
	var rows []circulation.SummaryRow
	if err := c.do(ctx, http.MethodGet, "/api/borrow", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Health reports whether the API and its database are up.
func (c *LibraryClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *LibraryClient) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.call(ctx, method, path, body, out)
	return err
}

// call sends body as JSON and decodes the envelope data into out. It returns
// the envelope message.
func (c *LibraryClient) call(ctx context.Context, method, path string, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool             `json:"success"`
		Message string           `json:"message"`
		Data    json.RawMessage  `json:"data"`
		Error   *httpx.ErrorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		if env.Error != nil {
			apiErr.Body = *env.Error
		}
		return "", apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return env.Message, nil
}
