// handlers_results.go - Completed OCR result browsing handlers
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/ocr-batch/dashboard/internal/results"
)

// ResultsHandlerImpl implements the ResultsHandler interface
type ResultsHandlerImpl struct {
	app *dashboard.App
}

// NewResultsHandler creates a new results handler instance
func NewResultsHandler(app *dashboard.App) ResultsHandler {
	return &ResultsHandlerImpl{app: app}
}

// HandleListResults lists completed results. Query parameters:
// band (all|high|medium|low), q, batch, sort (date|name|confidence|size)
// and order (asc|desc, default desc).
func (h *ResultsHandlerImpl) HandleListResults(c echo.Context) error {
	q, err := parseResultsQuery(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.app.Results(q))
}

// HandleGetResult returns the full OCR result of one file
func (h *ResultsHandlerImpl) HandleGetResult(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	d, err := h.app.Result(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func parseResultsQuery(c echo.Context) (results.Query, error) {
	band, err := results.ParseBand(c.QueryParam("band"))
	if err != nil {
		return results.Query{}, NewBadRequestError("invalid band", err)
	}
	field, err := results.ParseSortField(c.QueryParam("sort"))
	if err != nil {
		return results.Query{}, NewBadRequestError("invalid sort", err)
	}
	q := results.Query{
		Band:    band,
		Search:  c.QueryParam("q"),
		BatchID: c.QueryParam("batch"),
		Sort:    field,
	}
	switch strings.ToLower(c.QueryParam("order")) {
	case "", "desc":
	case "asc":
		q.Ascending = true
	default:
		return results.Query{}, NewValidationError("order")
	}
	return q, nil
}
