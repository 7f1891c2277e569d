// Package config provides XML-based configuration management with .env and
// environment variable overrides.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"OCRBatchDashboard"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// OCR backend connection
	Backend BackendConfig `xml:"Backend"`

	// Batch sizing and polling
	Batching BatchingConfig `xml:"Batching"`

	// File validation
	Files FilesConfig `xml:"Files"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// BackendConfig contains the OCR backend address and request ceiling
type BackendConfig struct {
	BaseURL               string `xml:"BaseURL"`
	RequestTimeoutSeconds int    `xml:"RequestTimeoutSeconds"`
}

// BatchingConfig contains batch size limits and timer intervals
type BatchingConfig struct {
	MaxBatchSize            int    `xml:"MaxBatchSize"`
	DefaultBatchSize        int    `xml:"DefaultBatchSize"`
	ResourceIntervalSeconds int    `xml:"ResourceIntervalSeconds"`
	PollIntervalSeconds     int    `xml:"PollIntervalSeconds"`
	MaxSilentRetries        int    `xml:"MaxSilentRetries"`
	MaxBackoffSeconds       int    `xml:"MaxBackoffSeconds"`
	DefaultProfile          string `xml:"DefaultProfile"`
}

// FilesConfig contains add-time validation limits
type FilesConfig struct {
	MaxFileSizeBytes int64  `xml:"MaxFileSizeBytes"`
	AllowedTypes     string `xml:"AllowedTypes"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory   string `xml:"DataDirectory"`
	SpoolDirectory  string `xml:"SpoolDirectory"`
	PreferencesFile string `xml:"PreferencesFile"`
	MetricsDatabase string `xml:"MetricsDatabase"`
	MetricsCapacity int    `xml:"MetricsCapacity"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  60,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "512M",
		},
		Backend: BackendConfig{
			BaseURL:               "http://localhost:5000",
			RequestTimeoutSeconds: 30,
		},
		Batching: BatchingConfig{
			MaxBatchSize:            20,
			DefaultBatchSize:        5,
			ResourceIntervalSeconds: 2,
			PollIntervalSeconds:     3,
			MaxSilentRetries:        10,
			MaxBackoffSeconds:       30,
			DefaultProfile:          "ultra_rapido",
		},
		Files: FilesConfig{
			MaxFileSizeBytes: 16 * 1024 * 1024,
			AllowedTypes:     "image/png,image/jpeg,image/jpg",
		},
		Storage: StorageConfig{
			DataDirectory:   "./data",
			SpoolDirectory:  "./data/spool",
			PreferencesFile: "./data/preferences.json",
			MetricsDatabase: "./data/metrics.duckdb",
			MetricsCapacity: 50,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "256MB",
		},
	}
}

// LoadConfig loads configuration from XML file. A missing file is created
// with the defaults. Variables from the .env file named by ENV_FILE (default
// ".env") are loaded before environment overrides are applied.
func LoadConfig(configPath string) (*AppConfig, error) {
	loadEnvFile()

	var config *AppConfig
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config = DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		config = DefaultConfig()
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvFile() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("[Config] could not load %s: %v\n", envFile, err)
		}
		return
	}
	fmt.Printf("[Config] loaded environment from %s\n", envFile)
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- OCR Batch Dashboard Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.SpoolDirectory = filepath.Join(dataDir, "spool")
		c.Storage.PreferencesFile = filepath.Join(dataDir, "preferences.json")
		c.Storage.MetricsDatabase = filepath.Join(dataDir, "metrics.duckdb")
	}

	if url := os.Getenv("OCR_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}

	if max := os.Getenv("OCR_MAX_BATCH_SIZE"); max != "" {
		if n, err := strconv.Atoi(max); err == nil {
			c.Batching.MaxBatchSize = n
		}
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.SpoolDirectory,
		&c.Storage.PreferencesFile,
		&c.Storage.MetricsDatabase,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate rejects values the dashboard cannot run with.
func (c *AppConfig) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("config: Backend.BaseURL is required")
	}
	if c.Batching.MaxBatchSize < 1 {
		return fmt.Errorf("config: Batching.MaxBatchSize must be at least 1, got %d", c.Batching.MaxBatchSize)
	}
	if c.Batching.DefaultBatchSize < 1 || c.Batching.DefaultBatchSize > c.Batching.MaxBatchSize {
		c.Batching.DefaultBatchSize = min(5, c.Batching.MaxBatchSize)
	}
	return nil
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// AllowedTypes returns the configured MIME allow-list.
func (c *AppConfig) AllowedTypes() []string {
	var out []string
	for _, t := range strings.Split(c.Files.AllowedTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RequestTimeout returns the backend request ceiling.
func (c *AppConfig) RequestTimeout() time.Duration {
	return seconds(c.Backend.RequestTimeoutSeconds)
}

// ResourceInterval returns the resource sampling period.
func (c *AppConfig) ResourceInterval() time.Duration {
	return seconds(c.Batching.ResourceIntervalSeconds)
}

// PollInterval returns the result polling period.
func (c *AppConfig) PollInterval() time.Duration {
	return seconds(c.Batching.PollIntervalSeconds)
}

// MaxBackoff returns the longest wait between result fetches for one file.
func (c *AppConfig) MaxBackoff() time.Duration {
	return seconds(c.Batching.MaxBackoffSeconds)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.SpoolDirectory,
		filepath.Dir(c.Storage.PreferencesFile),
		filepath.Dir(c.Storage.MetricsDatabase),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
