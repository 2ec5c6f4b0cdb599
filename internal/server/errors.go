// Package server provides the HTTP API for the resume tailoring wizard.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/resume-tailor/internal/db"
	"github.com/jonathan/resume-tailor/internal/export"
	"github.com/jonathan/resume-tailor/internal/fetch"
	"github.com/jonathan/resume-tailor/internal/ingestion"
	"github.com/jonathan/resume-tailor/internal/llm"
	"github.com/jonathan/resume-tailor/internal/rewriting"
	"github.com/jonathan/resume-tailor/internal/wizard"
)

// ErrSessionNotFound indicates the session does not exist
type ErrSessionNotFound struct {
	SessionID uuid.UUID
}

func (e *ErrSessionNotFound) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the HTTP status code for an error. Upstream model and
// fetch failures are 502; nothing a collaborator returns is a 500 unless it
// is unexpected.
func HTTPStatus(err error) int {
	var (
		notFound    *ErrSessionNotFound
		validation  *ErrValidation
		validErrs   validator.ValidationErrors
		transition  *wizard.TransitionError
		parseErr    *ingestion.ParseError
		formatErr   *export.UnsupportedFormatError
		providerErr *llm.ProviderError
		apiErr      *rewriting.APICallError
		fetchErr    *fetch.Error
	)

	switch {
	case errors.As(err, &notFound), errors.Is(err, db.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &validErrs),
		errors.As(err, &parseErr), errors.As(err, &formatErr),
		errors.Is(err, ingestion.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, ingestion.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.As(err, &providerErr), errors.As(err, &apiErr), errors.As(err, &fetchErr),
		errors.Is(err, ingestion.ErrHTTPRequestFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// validationMessage turns validator errors into one readable line.
func validationMessage(err error) string {
	var validErrs validator.ValidationErrors
	if !errors.As(err, &validErrs) || len(validErrs) == 0 {
		return err.Error()
	}
	fe := validErrs[0]
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
