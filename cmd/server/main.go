package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/api"
	"github.com/ocr-batch/dashboard/internal/backend"
	"github.com/ocr-batch/dashboard/internal/config"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/ocr-batch/dashboard/internal/metrics"
	"github.com/ocr-batch/dashboard/internal/prefs"
	"github.com/ocr-batch/dashboard/internal/storage"
	"github.com/ocr-batch/dashboard/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "OCRBatchDashboard.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	api.ShowErrorDetails = strings.EqualFold(cfg.Advanced.LogLevel, "debug")

	// Spooled payloads of a previous run belong to no tracked file
	spool, err := storage.NewSpool(cfg.Storage.SpoolDirectory)
	if err != nil {
		fmt.Printf("Failed to initialize spool: %v\n", err)
		os.Exit(1)
	}

	history, err := metrics.OpenHistory(cfg.Storage.MetricsDatabase, metrics.HistoryOptions{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	})
	if err != nil {
		// Metrics still work in memory
		fmt.Printf("Warning: metrics history disabled: %v\n", err)
		history = nil
	}

	metricsStore := "in memory"
	if history != nil {
		metricsStore = history.Path()
	}

	prefsStore := prefs.Open(cfg.Storage.PreferencesFile, cfg.Batching.MaxBatchSize)
	app, err := dashboard.New(dashboard.Deps{
		Backend: backend.NewClient(cfg.Backend.BaseURL, cfg.RequestTimeout()),
		Spool:   spool,
		Prefs:   prefsStore,
		History: history,
	}, dashboard.Settings{
		MaxBatchSize:     cfg.Batching.MaxBatchSize,
		MaxFileSize:      cfg.Files.MaxFileSizeBytes,
		AllowedTypes:     cfg.AllowedTypes(),
		ResourceInterval: cfg.ResourceInterval(),
		PollInterval:     cfg.PollInterval(),
		MaxSilentRetries: cfg.Batching.MaxSilentRetries,
		MaxBackoff:       cfg.MaxBackoff(),
		DefaultProfile:   cfg.Batching.DefaultProfile,
		MetricsCapacity:  cfg.Storage.MetricsCapacity,
	})
	if err != nil {
		fmt.Printf("Failed to initialize dashboard: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	app.Start(ctx)

	e := echo.New()
	e.HideBanner = true

	origins := strings.Split(cfg.Server.AllowOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	api.SetupMiddleware(e, api.MiddlewareOptions{
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   origins,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		BodyLimit:      cfg.Server.BodyLimit,
	})

	handlers := api.NewHandlers(&api.Dependencies{App: app, Version: Version})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	// Register embedded page if available
	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			fmt.Printf("Warning: failed to register static routes: %v\n", err)
		} else {
			fmt.Println("Serving embedded dashboard from binary")
		}
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           OCR Batch Dashboard                             ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Backend:   %-46s║\n", cfg.Backend.BaseURL)
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("║  Spool:     %-46s║\n", spool.Dir())
	fmt.Printf("║  Prefs:     %-46s║\n", prefsStore.Path())
	fmt.Printf("║  Metrics:   %-46s║\n", metricsStore)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Server error: %v\n", err)
			stop()
		}
	}()

	<-ctx.Done()
	fmt.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	handlers.Events.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}
	app.Close()
	if history != nil {
		if err := history.Close(); err != nil {
			fmt.Printf("Failed to close metrics history: %v\n", err)
		}
	}
}
