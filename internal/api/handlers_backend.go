// handlers_backend.go - OCR backend maintenance pass-throughs
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
)

// BackendHandlerImpl implements the BackendHandler interface
type BackendHandlerImpl struct {
	backend dashboard.Backend
}

// NewBackendHandler creates a new backend pass-through handler
func NewBackendHandler(app *dashboard.App) BackendHandler {
	return &BackendHandlerImpl{backend: app.Backend()}
}

// HandleExtractResults returns the backend's consolidated results document
func (h *BackendHandlerImpl) HandleExtractResults(c echo.Context) error {
	raw, err := h.backend.ExtractResults(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, raw)
}

// HandleQueueStatus returns the backend queue status
func (h *BackendHandlerImpl) HandleQueueStatus(c echo.Context) error {
	status, err := h.backend.QueueStatus(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// HandleCleanQueue empties the backend inbox
func (h *BackendHandlerImpl) HandleCleanQueue(c echo.Context) error {
	raw, err := h.backend.CleanQueue(c.Request().Context())
	if err != nil {
		return err
	}
	fmt.Println("[API] backend queue cleaned")
	return c.JSONBlob(http.StatusOK, raw)
}

// HandleClean runs a full backend cleanup
func (h *BackendHandlerImpl) HandleClean(c echo.Context) error {
	raw, err := h.backend.Clean(c.Request().Context())
	if err != nil {
		return err
	}
	fmt.Println("[API] backend cleaned")
	return c.JSONBlob(http.StatusOK, raw)
}
