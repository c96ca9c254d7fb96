package jsonapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrorBuilder provides a fluent API for building Error objects.
type ErrorBuilder struct {
	err Error
}

// NewError starts an error object with the given status and code. The
// title is derived from the code.
func NewError(status int, code string) *ErrorBuilder {
	return &ErrorBuilder{
		err: Error{
			Status: strconv.Itoa(status),
			Code:   code,
			Title:  Title(code),
		},
	}
}

// Title turns a snake_case error code into a title:
// "unknown_stream" becomes "Unknown Stream".
func Title(code string) string {
	words := strings.Split(code, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Detail sets the error detail message.
func (b *ErrorBuilder) Detail(detail string) *ErrorBuilder {
	b.err.Detail = detail
	return b
}

// Detailf sets the error detail message with formatting.
func (b *ErrorBuilder) Detailf(format string, args ...any) *ErrorBuilder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

// Pointer sets the JSON pointer to the offending body member,
// e.g. "/value".
func (b *ErrorBuilder) Pointer(pointer string) *ErrorBuilder {
	if b.err.Source == nil {
		b.err.Source = &ErrorSource{}
	}
	b.err.Source.Pointer = pointer
	return b
}

// Parameter sets the query parameter that caused the error.
func (b *ErrorBuilder) Parameter(param string) *ErrorBuilder {
	if b.err.Source == nil {
		b.err.Source = &ErrorSource{}
	}
	b.err.Source.Parameter = param
	return b
}

// Meta adds metadata to the error.
func (b *ErrorBuilder) Meta(key string, value any) *ErrorBuilder {
	if b.err.Meta == nil {
		b.err.Meta = make(Meta)
	}
	b.err.Meta[key] = value
	return b
}

// Build returns the constructed Error.
func (b *ErrorBuilder) Build() Error {
	return b.err
}

// StatusCode returns the HTTP status code as an int, or 500 when the
// status is missing.
func (e Error) StatusCode() int {
	code, err := strconv.Atoi(e.Status)
	if err != nil || code == 0 {
		return http.StatusInternalServerError
	}
	return code
}

func (e Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// BadRequest creates a 400 error.
func BadRequest(detail string) Error {
	return NewError(http.StatusBadRequest, "bad_request").Detail(detail).Build()
}

// NotFound creates a 404 error.
func NotFound(detail string) Error {
	return NewError(http.StatusNotFound, "not_found").Detail(detail).Build()
}

// MethodNotAllowed creates a 405 error.
func MethodNotAllowed(method string) Error {
	return NewError(http.StatusMethodNotAllowed, "method_not_allowed").
		Detailf("The %s method is not allowed for this resource", method).
		Build()
}

// Unprocessable creates a 422 error carrying a domain error code.
func Unprocessable(code, detail string) Error {
	return NewError(http.StatusUnprocessableEntity, code).Detail(detail).Build()
}

// Internal creates a 500 error. Details of internal failures are not
// exposed unless given.
func Internal(detail string) Error {
	if detail == "" {
		detail = "An internal error occurred"
	}
	return NewError(http.StatusInternalServerError, "internal_error").Detail(detail).Build()
}

// Unavailable creates a 503 error.
func Unavailable(detail string) Error {
	return NewError(http.StatusServiceUnavailable, "service_unavailable").Detail(detail).Build()
}

// Timeout creates a 504 error.
func Timeout(detail string) Error {
	return NewError(http.StatusGatewayTimeout, "timeout").Detail(detail).Build()
}
