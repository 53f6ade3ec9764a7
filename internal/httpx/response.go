// internal/httpx/response.go
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"librarium/internal/liberr"
	"librarium/internal/logging"
)

const maxBodyBytes = 1 << 20

// Envelope is the body of every API response.
type Envelope struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	Data       any        `json:"data,omitempty"`
	BooksCount *int       `json:"booksCount,omitempty"`
	Error      *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failure in machine-readable form.
type ErrorBody struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags on v.
func Validate(v any) error {
	return validate.Struct(v)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// List writes a success envelope carrying a total count.
func List(w http.ResponseWriter, message string, data any, count int) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data, BooksCount: &count})
}

// Fail writes a failure envelope without going through error classification.
func Fail(w http.ResponseWriter, status int, kind, message string) {
	WriteJSON(w, status, Envelope{
		Message: message,
		Error:   &ErrorBody{Kind: kind, Message: message},
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind liberr.Kind) int {
	switch kind {
	case liberr.KindNotFound:
		return http.StatusNotFound
	case liberr.KindInsufficientStock, liberr.KindValidation:
		return http.StatusBadRequest
	case liberr.KindDuplicate, liberr.KindInUse, liberr.KindConflict:
		return http.StatusConflict
	case liberr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError classifies err and writes the matching failure envelope.
// Internal and unavailable errors are logged; their details never reach the
// client.
func WriteError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	kind := liberr.KindOf(err)
	status := StatusFor(kind)

	body := &ErrorBody{Kind: kind.String(), Message: liberr.Message(err)}

	switch kind {
	case liberr.KindInternal:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Message = "Internal server error."
	case liberr.KindUnavailable:
		logger.Error("dependency unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
	case liberr.KindConflict:
		body.Retryable = true
		w.Header().Set("Retry-After", "1")
	case liberr.KindValidation:
		if fields := fieldErrors(err); fields != nil {
			body.Fields = fields
			body.Message = "Request validation failed."
		}
	}

	WriteJSON(w, status, Envelope{Message: body.Message, Error: body})
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		switch fe.Tag() {
		case "required":
			fields[name] = "is required"
		case "min", "gte":
			fields[name] = "must be at least " + fe.Param()
		case "max", "lte":
			fields[name] = "must be at most " + fe.Param()
		case "oneof":
			fields[name] = "must be one of " + fe.Param()
		default:
			fields[name] = "failed " + fe.Tag() + " validation"
		}
	}
	return fields
}

// DecodeJSON reads a JSON body into dst, rejecting unknown fields and
// trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return liberr.New(liberr.KindValidation, "Request body is empty.")
		}
		return liberr.Wrap(liberr.KindValidation, err, "Invalid JSON body.")
	}
	if dec.More() {
		return liberr.New(liberr.KindValidation, "Request body must contain a single JSON object.")
	}
	return nil
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	Fail(w, http.StatusNotFound, liberr.KindNotFound.String(), fmt.Sprintf("Content not found for: %s.", r.URL.Path))
}

// MethodNotAllowed answers known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	Fail(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.")
}
