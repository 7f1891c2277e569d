// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	app     *dashboard.App
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(app *dashboard.App, version string) HealthHandler {
	return &HealthHandlerImpl{
		app:     app,
		version: version,
	}
}

type healthResponse struct {
	State   string `json:"status"`
	Version string `json:"version"`
	dashboard.Status
}

// HandleHealth returns server health status. The backend is reported as
// unreachable while resource sampling fails.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		State:   "ok",
		Version: h.version,
		Status:  h.app.Status(),
	})
}
