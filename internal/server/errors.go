package server

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRefreshInProgress indicates a catalog rebuild is already running
type ErrRefreshInProgress struct{}

func (e *ErrRefreshInProgress) Error() string {
	return "catalog refresh already in progress"
}

// ErrNotFound indicates no route or file matched
type ErrNotFound struct {
	Path string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		inProgress *ErrRefreshInProgress
		notFound   *ErrNotFound
		validation *ErrValidation
	)
	switch {
	case errors.As(err, &inProgress):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
