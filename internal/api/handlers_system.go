// handlers_system.go - Resources, preferences, metrics and view handlers
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/view"
	"github.com/vmihailenco/msgpack/v5"
)

// SystemHandlerImpl implements the SystemHandler interface
type SystemHandlerImpl struct {
	app *dashboard.App
}

// NewSystemHandler creates a new system handler instance
func NewSystemHandler(app *dashboard.App) SystemHandler {
	return &SystemHandlerImpl{app: app}
}

type resourcesResponse struct {
	Snapshot  *models.ResourceSnapshot `json:"snapshot,omitempty"`
	Available bool                     `json:"available"`
	Failing   bool                     `json:"failing"`
	Notice    string                   `json:"notice,omitempty"`
}

type preferencesResponse struct {
	models.Preferences
	MaxBatchSize int `json:"maxBatchSize"`
}

type metricsResponse struct {
	Samples []models.BatchMetricSample `json:"samples" msgpack:"samples"`
	Summary models.MetricsSummary      `json:"summary" msgpack:"summary"`
	AllTime *models.MetricsSummary     `json:"allTime,omitempty" msgpack:"allTime,omitempty"`
}

type viewResponse struct {
	view.View
	Notice string `json:"notice,omitempty"`
}

// HandleGetResources returns the latest resource snapshot. ?refresh=true
// samples the backend before answering.
func (h *SystemHandlerImpl) HandleGetResources(c echo.Context) error {
	if c.QueryParam("refresh") == "true" {
		// A failed refresh still answers with the retained snapshot.
		h.app.SampleResources(c.Request().Context())
	}
	snap, ok, failing := h.app.Resources()
	resp := resourcesResponse{Available: ok, Failing: failing, Notice: h.app.Notice()}
	if ok {
		resp.Snapshot = &snap
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleGetPreferences returns the stored preferences
func (h *SystemHandlerImpl) HandleGetPreferences(c echo.Context) error {
	return c.JSON(http.StatusOK, preferencesResponse{
		Preferences:  h.app.Preferences(),
		MaxBatchSize: h.app.MaxBatchSize(),
	})
}

// HandleSetPreferences persists new preferences. The batch size is clamped
// to the configured range.
func (h *SystemHandlerImpl) HandleSetPreferences(c echo.Context) error {
	var req dashboard.PreferencesPatch
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	saved, err := h.app.UpdatePreferences(req)
	if err != nil {
		return NewInternalError("failed to save preferences", err)
	}
	return c.JSON(http.StatusOK, preferencesResponse{
		Preferences:  saved,
		MaxBatchSize: h.app.MaxBatchSize(),
	})
}

func (h *SystemHandlerImpl) metrics(c echo.Context) metricsResponse {
	samples, summary := h.app.Metrics()
	resp := metricsResponse{Samples: samples, Summary: summary}
	all, ok, err := h.app.AllTimeMetrics(c.Request().Context())
	if err != nil {
		fmt.Printf("[API] metrics history summary failed: %v\n", err)
	} else if ok {
		resp.AllTime = &all
	}
	return resp
}

// HandleGetMetrics returns the recent batch samples and their summary. With
// a history database the all-time aggregate is included.
func (h *SystemHandlerImpl) HandleGetMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.metrics(c))
}

// HandleGetMetricsMsgpack returns the metrics in MessagePack format
func (h *SystemHandlerImpl) HandleGetMetricsMsgpack(c echo.Context) error {
	data, err := msgpack.Marshal(h.metrics(c))
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleResetMetrics drops the in-memory batch samples. Persisted history
// is kept.
func (h *SystemHandlerImpl) HandleResetMetrics(c echo.Context) error {
	h.app.ResetMetrics()
	return c.NoContent(http.StatusNoContent)
}

// HandleGetView returns the rendered dashboard
func (h *SystemHandlerImpl) HandleGetView(c echo.Context) error {
	return c.JSON(http.StatusOK, viewResponse{View: h.app.View(), Notice: h.app.Notice()})
}
