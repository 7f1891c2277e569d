package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/backend"
	"github.com/ocr-batch/dashboard/internal/registry"
	"github.com/ocr-batch/dashboard/internal/results"
	"github.com/ocr-batch/dashboard/internal/submit"
	"github.com/stretchr/testify/assert"
)

func TestFromDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &registry.ValidationError{Name: "a.pdf", Reason: registry.ReasonUnsupportedType}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"busy", submit.ErrBusy, http.StatusConflict, "CONFLICT"},
		{"nothing to submit", fmt.Errorf("wrapped: %w", submit.ErrNothingToSubmit), http.StatusConflict, "CONFLICT"},
		{"additional data", submit.ErrInvalidAdditionalData, http.StatusBadRequest, "BAD_REQUEST"},
		{"not found", registry.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"no result yet", fmt.Errorf("%w: f1", results.ErrNoResult), http.StatusNotFound, "NO_RESULT"},
		{"not removable", fmt.Errorf("%w: uploading", registry.ErrNotRemovable), http.StatusConflict, "CONFLICT"},
		{"invalid transition", registry.ErrInvalidTransition, http.StatusConflict, "CONFLICT"},
		{"backend", fmt.Errorf("processing batch: %w", &backend.BackendError{Op: "process_batch", Status: 413, Code: backend.CodeFileTooLarge}), http.StatusBadGateway, "BACKEND_ERROR"},
		{"network", &backend.NetworkError{Op: "result", Err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"api error", NewValidationError("ids"), http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromDomainError(tt.err)
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.status, got.Status)
				assert.Equal(t, tt.code, got.Code)
				assert.NotEmpty(t, got.Message)
			}
		})
	}

	assert.Nil(t, FromDomainError(errors.New("something else")))
}

func TestFromDomainError_UserMessages(t *testing.T) {
	got := FromDomainError(&backend.BackendError{Op: "upload_batch", Status: 413, Code: backend.CodeFileTooLarge})
	assert.Equal(t, backend.UserMessage(&backend.BackendError{Status: 413, Code: backend.CodeFileTooLarge}), got.Message)
	assert.Contains(t, got.Details, "upload_batch")
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"domain", registry.ErrNotFound, http.StatusNotFound, `"code":"NOT_FOUND"`},
		{"echo", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, `"code":"HTTP_ERROR"`},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, `"code":"UNKNOWN_ERROR"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			ErrorHandler(tt.err, c)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}
