// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTooLarge     = errors.New("request entity too large")
)

// Error pairs a sentinel kind with the detail shown to the client.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Forbidden builds a 403 error carrying detail.
func Forbidden(detail string) *Error {
	return &Error{Kind: ErrForbidden, Detail: detail}
}

// Unauthorized builds a 401 error carrying detail.
func Unauthorized(detail string) *Error {
	return &Error{Kind: ErrUnauthorized, Detail: detail}
}

// Validation builds a 400 error carrying detail.
func Validation(detail string) *Error {
	return &Error{Kind: ErrValidation, Detail: detail}
}

// NotFound builds a 404 error carrying detail.
func NotFound(detail string) *Error {
	return &Error{Kind: ErrNotFound, Detail: detail}
}

// Duplicate builds a 409 error carrying detail.
func Duplicate(detail string) *Error {
	return &Error{Kind: ErrDuplicate, Detail: detail}
}

// TooLarge builds a 413 error carrying detail.
func TooLarge(detail string) *Error {
	return &Error{Kind: ErrTooLarge, Detail: detail}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Errors of unknown kind are rendered without detail.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", detailOf(err))
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", detailOf(err))
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", detailOf(err))
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", detailOf(err))
	case errors.Is(err, ErrTooLarge):
		Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", detailOf(err))
	case errors.Is(err, ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Token")
		Problem(w, http.StatusUnauthorized, "Unauthorized", detailOf(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// StatusOf reports the HTTP status RespondError would use for err.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func detailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}
