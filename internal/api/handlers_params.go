// handlers_params.go - Parameter template handlers
package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/ocr-batch/dashboard/internal/params"
	"github.com/ocr-batch/dashboard/internal/submit"
)

// maxTemplateBytes bounds an imported template.
const maxTemplateBytes = 4 << 20

// ParametersHandlerImpl implements the ParametersHandler interface
type ParametersHandlerImpl struct {
	app *dashboard.App
}

// NewParametersHandler creates a new parameters handler instance
func NewParametersHandler(app *dashboard.App) ParametersHandler {
	return &ParametersHandlerImpl{app: app}
}

// HandleExport downloads the parameters of every tracked file as a YAML or
// JSON template. Global parameters are taken from the query string.
func (h *ParametersHandlerImpl) HandleExport(c echo.Context) error {
	format, err := params.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return NewBadRequestError("invalid format", err)
	}
	global := submit.EssentialParameters{
		SorteoCode: c.QueryParam("codigo_sorteo"),
		WhatsappID: c.QueryParam("id_whatsapp"),
		UserName:   c.QueryParam("nombre_usuario"),
		Caption:    c.QueryParam("caption"),
		ExactTime:  c.QueryParam("hora_exacta"),
	}
	data, err := params.Marshal(h.app.ExportParameters(global), format)
	if err != nil {
		return NewInternalError("failed to encode template", err)
	}

	filename := fmt.Sprintf("parametros_%s.%s", time.Now().Format("20060102_150405"), format)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, format.ContentType(), data)
}

// HandleImport applies an uploaded template to the files whose names match.
// The format comes from ?format= or the Content-Type header; without either
// it is detected from the body.
func (h *ParametersHandlerImpl) HandleImport(c echo.Context) error {
	format, err := importFormat(c)
	if err != nil {
		return NewBadRequestError("invalid format", err)
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxTemplateBytes))
	if err != nil {
		return NewBadRequestError("failed to read body", err)
	}
	if len(data) == 0 {
		return NewValidationError("body")
	}
	t, err := params.Unmarshal(data, format)
	if err != nil {
		return NewBadRequestError("invalid template", err)
	}
	return c.JSON(http.StatusOK, map[string]int{"applied": h.app.ImportParameters(t)})
}

// HandleGenerate fills every tracked file with generated parameters
func (h *ParametersHandlerImpl) HandleGenerate(c echo.Context) error {
	var base submit.EssentialParameters
	if err := bindOptional(c, &base); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": h.app.GenerateParameters(base)})
}

func importFormat(c echo.Context) (params.Format, error) {
	if q := c.QueryParam("format"); q != "" {
		return params.ParseFormat(q)
	}
	ct := strings.ToLower(c.Request().Header.Get(echo.HeaderContentType))
	switch {
	case strings.Contains(ct, "yaml"):
		return params.FormatYAML, nil
	case strings.Contains(ct, "json"):
		return params.FormatJSON, nil
	}
	return "", nil
}
