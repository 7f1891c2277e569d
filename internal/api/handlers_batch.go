// handlers_batch.go - Upload, batch submission and polling handlers
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/ocr-batch/dashboard/internal/submit"
)

// BatchHandlerImpl implements the BatchHandler interface
type BatchHandlerImpl struct {
	app *dashboard.App
}

// NewBatchHandler creates a new batch handler instance
func NewBatchHandler(app *dashboard.App) BatchHandler {
	return &BatchHandlerImpl{app: app}
}

type uploadRequest struct {
	IDs            []string        `json:"ids"`
	CaptionGlobal  string          `json:"captionGlobal"`
	AdditionalData json.RawMessage `json:"additionalData"`
	BatchSize      int             `json:"batchSize"`
}

type pollRequest struct {
	IDs        []string `json:"ids"`
	IntervalMs int      `json:"intervalMs"`
}

// HandleUpload sends pending files to the OCR backend. With no ids every
// pending file is uploaded.
func (h *BatchHandlerImpl) HandleUpload(c echo.Context) error {
	var req uploadRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	res, err := h.app.Upload(c.Request().Context(), req.IDs, submit.UploadOptions{
		CaptionGlobal:  req.CaptionGlobal,
		AdditionalData: req.AdditionalData,
		BatchSize:      req.BatchSize,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// HandleSubmitBatch processes uploaded files as one batch. The API key may
// be sent in the body or as a bearer token.
func (h *BatchHandlerImpl) HandleSubmitBatch(c echo.Context) error {
	var req dashboard.SubmitRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	if req.Parameters.APIKey == "" {
		req.Parameters.APIKey = bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	out, err := h.app.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// HandleStartPolling starts reconciling the given files against backend
// results
func (h *BatchHandlerImpl) HandleStartPolling(c echo.Context) error {
	var req pollRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if len(req.IDs) == 0 {
		return NewValidationError("ids")
	}
	if req.IntervalMs < 0 {
		return NewValidationError("intervalMs")
	}
	for _, id := range req.IDs {
		if !h.app.Registry().Has(id) {
			return NewNotFoundError("file", id)
		}
	}
	handle := h.app.StartPolling(req.IDs, time.Duration(req.IntervalMs)*time.Millisecond)
	return c.JSON(http.StatusAccepted, handle.Info())
}

// HandleListPolling lists the live polling handles
func (h *BatchHandlerImpl) HandleListPolling(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"handles": h.app.PollHandles()})
}

// HandleStopPolling cancels a polling handle
func (h *BatchHandlerImpl) HandleStopPolling(c echo.Context) error {
	id := c.Param("handle")
	if !h.app.StopPolling(id) {
		return NewNotFoundError("polling handle", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c echo.Context, v interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	return nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
