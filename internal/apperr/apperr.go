// Package apperr defines the engine's error taxonomy and its mapping onto
// HTTP status codes. Every error the core surfaces to a caller is one of the
// kinds declared here; the HTTP surface translates them in a single place
// rather than scattering status-code decisions across handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies which taxonomy bucket an error belongs to.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindStorage    Kind = "storage"
	KindProtocol   Kind = "protocol"
	KindShutdown   Kind = "shutdown"
)

// Error is the concrete error type carrying a Kind and a message. Callers
// compare kinds with errors.As, never by string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation wraps a schema/payload validation failure.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// NotFound wraps a missing collection or record lookup.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Conflict is reserved for schema-admin conflicts; not currently raised.
func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

// Storage wraps a KV engine I/O failure. The caller never retries.
func Storage(err error, format string, args ...any) *Error {
	e := newf(KindStorage, format, args...)
	e.Err = err
	return e
}

// Protocol wraps malformed request framing.
func Protocol(format string, args ...any) *Error { return newf(KindProtocol, format, args...) }

// Shutdown reports that the server is draining and the caller should retry.
func Shutdown(format string, args ...any) *Error { return newf(KindShutdown, format, args...) }

// HTTPStatus resolves any error to a status code per the taxonomy in §7.
// Errors that are not an *Error default to 500, since an un-typed error
// escaping a component is itself a storage-class failure.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindProtocol:
		return http.StatusBadRequest
	case KindShutdown:
		return http.StatusServiceUnavailable
	case KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
