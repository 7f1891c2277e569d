// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/backend"
	"github.com/ocr-batch/dashboard/internal/registry"
	"github.com/ocr-batch/dashboard/internal/results"
	"github.com/ocr-batch/dashboard/internal/submit"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ShowErrorDetails controls whether unexpected errors expose their text.
var ShowErrorDetails = true

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// NewBackendError creates a 502 error for a failed OCR backend call
func NewBackendError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "BACKEND_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// FromDomainError translates errors of the dashboard packages into API
// errors. It returns nil for errors it does not know.
func FromDomainError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verr *registry.ValidationError
	var berr *backend.BackendError
	switch {
	case errors.As(err, &verr):
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    "VALIDATION_ERROR",
			Message: verr.Error(),
			Details: verr.Reason,
		}
	case errors.Is(err, submit.ErrBusy):
		return NewConflictError("a submission is already in progress")
	case errors.Is(err, submit.ErrNothingToSubmit):
		return NewConflictError(err.Error())
	case errors.Is(err, submit.ErrInvalidAdditionalData):
		return NewBadRequestError(err.Error(), nil)
	case errors.Is(err, registry.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, results.ErrNoResult):
		return &APIError{Status: http.StatusNotFound, Code: "NO_RESULT", Message: err.Error()}
	case errors.Is(err, registry.ErrNotRemovable), errors.Is(err, registry.ErrInvalidTransition):
		return NewConflictError(err.Error())
	case errors.As(err, &berr):
		return NewBackendError(backend.UserMessage(err), err)
	case backend.IsNetwork(err):
		apiErr = NewServiceUnavailableError(backend.UserMessage(err))
		apiErr.Details = err.Error()
		return apiErr
	}
	return nil
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	apiErr := FromDomainError(err)
	if apiErr == nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			apiErr = &APIError{
				Status:  he.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", he.Message),
			}
		} else {
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
			}
			if ShowErrorDetails {
				apiErr.Details = err.Error()
			}
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
