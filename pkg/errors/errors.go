// Package errors defines the sentinel errors shared by the build, query and
// deploy stages, plus an AppError that carries an HTTP status for the
// evaluator host.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedEncoding = errors.New("unsupported document encoding")
	ErrCapacity            = errors.New("capacity exceeded")
	ErrFormat              = errors.New("invalid artifact format")
	ErrQueryTooLong        = errors.New("query too long")
	ErrDeploy              = errors.New("deployment failed")
	ErrNotFound            = errors.New("not found")
	ErrInternal            = errors.New("internal error")
)

// AppError pins an HTTP status on a sentinel error.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Newf returns an AppError with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrQueryTooLong):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedEncoding):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDeploy):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
