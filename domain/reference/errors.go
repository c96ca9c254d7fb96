package reference

import (
	"errors"
	"fmt"
)

// Code classifies reference failures.
type Code string

// Failure codes.
const (
	CodeConfiguration          Code = "configuration_error"
	CodeMalformedReference     Code = "malformed_reference"
	CodeMissingAction          Code = "missing_action"
	CodeUnknownStream          Code = "unknown_stream"
	CodeActionNotAllowed       Code = "action_not_allowed"
	CodeNotFound               Code = "not_found"
	CodeInvalidLookupArguments Code = "invalid_lookup_arguments"
)

// Error is a classified reference failure.
type Error struct {
	Code   Code
	Stream string
	Action string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is regardless of stream, action or detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks. Resolver hooks return ErrNotFound and
// ErrInvalidLookupArguments (or wrap them) to signal lookup failures.
var (
	ErrNoRegistry = &Error{
		Code:   CodeConfiguration,
		Detail: "reference codec must be constructed inside a routing context that supplies a stream registry",
	}
	ErrMalformedReference     = &Error{Code: CodeMalformedReference, Detail: "Must be of the format {stream: ..., payload: {..}}"}
	ErrMissingAction          = &Error{Code: CodeMissingAction, Detail: "must have an action key"}
	ErrUnknownStream          = &Error{Code: CodeUnknownStream, Detail: "stream not found"}
	ErrActionNotAllowed       = &Error{Code: CodeActionNotAllowed, Detail: "action not supported"}
	ErrNotFound               = &Error{Code: CodeNotFound, Detail: "Not found"}
	ErrInvalidLookupArguments = &Error{Code: CodeInvalidLookupArguments, Detail: "Incorrect lookup arguments"}
)

// CodeOf returns the code of a reference error, or "" for other errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a decode validation failure
// (anything in the taxonomy except configuration errors).
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeMalformedReference, CodeMissingAction, CodeUnknownStream,
		CodeActionNotAllowed, CodeNotFound, CodeInvalidLookupArguments:
		return true
	}
	return false
}

func malformed(detail string) *Error {
	return &Error{Code: CodeMalformedReference, Detail: detail}
}

func unknownStream(name string) *Error {
	return &Error{
		Code:   CodeUnknownStream,
		Stream: name,
		Detail: fmt.Sprintf("stream %s not found.", name),
	}
}

func actionNotAllowed(name, action string) *Error {
	return &Error{
		Code:   CodeActionNotAllowed,
		Stream: name,
		Action: action,
		Detail: fmt.Sprintf("action %s not supported on %s.", action, name),
	}
}

func configError(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Detail: fmt.Sprintf(format, args...)}
}

// hookError classifies an error returned by a stream's ObjectResolver.
// Taxonomy errors keep their code and gain stream/action context; anything
// else (including context cancellation) is returned wrapped but unchanged
// for errors.Is.
func hookError(name, action string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		out := *e
		if out.Stream == "" {
			out.Stream = name
		}
		if out.Action == "" {
			out.Action = action
		}
		if e != err {
			// keep the hook's own wording, e.g. "user 7: Not found"
			out.Detail = err.Error()
			out.Err = nil
		}
		return &out
	}
	return fmt.Errorf("resolve %s/%s: %w", name, action, err)
}
