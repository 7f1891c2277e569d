// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import "github.com/labstack/echo/v4"

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// FilesHandler handles the tracked-file queue
type FilesHandler interface {
	HandleListFiles(c echo.Context) error
	HandleListFilesMsgpack(c echo.Context) error
	HandleAddFiles(c echo.Context) error
	HandleRemoveFile(c echo.Context) error
	HandleUpdateParameters(c echo.Context) error
	HandleRetryFile(c echo.Context) error
	HandleClearQueue(c echo.Context) error
}

// BatchHandler handles uploads, batch submission and result polling
type BatchHandler interface {
	HandleUpload(c echo.Context) error
	HandleSubmitBatch(c echo.Context) error
	HandleStartPolling(c echo.Context) error
	HandleListPolling(c echo.Context) error
	HandleStopPolling(c echo.Context) error
}

// SystemHandler handles telemetry, preferences, metrics and the rendered view
type SystemHandler interface {
	HandleGetResources(c echo.Context) error
	HandleGetPreferences(c echo.Context) error
	HandleSetPreferences(c echo.Context) error
	HandleGetMetrics(c echo.Context) error
	HandleGetMetricsMsgpack(c echo.Context) error
	HandleResetMetrics(c echo.Context) error
	HandleGetView(c echo.Context) error
}

// ResultsHandler browses the OCR results of completed files
type ResultsHandler interface {
	HandleListResults(c echo.Context) error
	HandleGetResult(c echo.Context) error
}

// ParametersHandler handles parameter template export, import and generation
type ParametersHandler interface {
	HandleExport(c echo.Context) error
	HandleImport(c echo.Context) error
	HandleGenerate(c echo.Context) error
}

// BackendHandler passes maintenance calls through to the OCR backend
type BackendHandler interface {
	HandleExtractResults(c echo.Context) error
	HandleQueueStatus(c echo.Context) error
	HandleCleanQueue(c echo.Context) error
	HandleClean(c echo.Context) error
}
