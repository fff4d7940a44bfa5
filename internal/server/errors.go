// Package server provides the HTTP REST API for the job application
// assistant.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ganainy/job-app-assistant/internal/db"
)

// ErrRunNotFound indicates a workflow run was not found or is not visible
// to the caller.
type ErrRunNotFound struct {
	RunID uuid.UUID
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("workflow run not found: %s", e.RunID)
}

// ErrValidation indicates request validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var notFound *ErrRunNotFound
	var validation *ErrValidation
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrRunFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
