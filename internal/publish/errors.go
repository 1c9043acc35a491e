package publish

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies publish failures.
type Kind int

const (
	KindUnknown Kind = iota
	MissingConfiguration
	MissingTarget
	InvalidInput
	NoContent
	NotFound
	Conflict
	RemoteFailure
)

func (k Kind) String() string {
	switch k {
	case MissingConfiguration:
		return "missing_configuration"
	case MissingTarget:
		return "missing_target"
	case InvalidInput:
		return "invalid_input"
	case NoContent:
		return "no_content"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case RemoteFailure:
		return "remote_failure"
	}
	return "unknown"
}

// HTTPStatus maps a kind to the status code the API answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case MissingTarget, InvalidInput, NoContent:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// Error is a classified failure. Msg is safe to show to callers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err, KindUnknown if unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
