// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/ocr-batch/dashboard/internal/dashboard"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	App     *dashboard.App
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health     HealthHandler
	Files      FilesHandler
	Batch      BatchHandler
	System     SystemHandler
	Results    ResultsHandler
	Parameters ParametersHandler
	Backend    BackendHandler
	Events     *EventHub
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(deps.App, deps.Version),
		Files:      NewFilesHandler(deps.App),
		Batch:      NewBatchHandler(deps.App),
		System:     NewSystemHandler(deps.App),
		Results:    NewResultsHandler(deps.App),
		Parameters: NewParametersHandler(deps.App),
		Backend:    NewBackendHandler(deps.App),
		Events:     NewEventHub(deps.App),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// Tracked-file queue
	files := api.Group("/files")
	files.GET("", handlers.Files.HandleListFiles)
	files.GET("/msgpack", handlers.Files.HandleListFilesMsgpack)
	files.POST("", handlers.Files.HandleAddFiles)
	files.POST("/clear", handlers.Files.HandleClearQueue)
	files.POST("/upload", handlers.Batch.HandleUpload)
	files.DELETE("/:id", handlers.Files.HandleRemoveFile)
	files.PUT("/:id/parameters", handlers.Files.HandleUpdateParameters)
	files.POST("/:id/retry", handlers.Files.HandleRetryFile)

	// Batches and polling
	api.POST("/batches", handlers.Batch.HandleSubmitBatch)
	api.GET("/poll", handlers.Batch.HandleListPolling)
	api.POST("/poll", handlers.Batch.HandleStartPolling)
	api.DELETE("/poll/:handle", handlers.Batch.HandleStopPolling)

	// Telemetry, preferences, metrics and the rendered view
	api.GET("/resources", handlers.System.HandleGetResources)
	api.GET("/preferences", handlers.System.HandleGetPreferences)
	api.PUT("/preferences", handlers.System.HandleSetPreferences)
	api.GET("/metrics", handlers.System.HandleGetMetrics)
	api.GET("/metrics/msgpack", handlers.System.HandleGetMetricsMsgpack)
	api.DELETE("/metrics", handlers.System.HandleResetMetrics)
	api.GET("/view", handlers.System.HandleGetView)

	// Completed results
	api.GET("/results", handlers.Results.HandleListResults)
	api.GET("/results/:id", handlers.Results.HandleGetResult)

	// Parameter templates
	params := api.Group("/parameters")
	params.GET("/export", handlers.Parameters.HandleExport)
	params.POST("/import", handlers.Parameters.HandleImport)
	params.POST("/generate", handlers.Parameters.HandleGenerate)

	// Backend pass-throughs
	be := api.Group("/backend")
	be.GET("/results", handlers.Backend.HandleExtractResults)
	be.GET("/queue", handlers.Backend.HandleQueueStatus)
	be.POST("/clean_queue", handlers.Backend.HandleCleanQueue)
	be.POST("/clean", handlers.Backend.HandleClean)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/events", handlers.Events.HandleWebSocket)
}

// MiddlewareOptions configures SetupMiddleware
type MiddlewareOptions struct {
	EnableCORS     bool
	AllowOrigins   []string
	RequestLogging bool
	BodyLimit      string
}

// quietPaths are polled by the front page and excluded from request logs.
var quietPaths = []string{"/api/resources", "/api/view", "/api/health", "/api/ws/"}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	if opts.RequestLogging {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				for _, p := range quietPaths {
					if strings.HasPrefix(path, p) {
						return true
					}
				}
				return false
			},
		}))
	}
	e.Use(middleware.Recover())

	if opts.EnableCORS {
		origins := opts.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		}))
	}

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}
}
