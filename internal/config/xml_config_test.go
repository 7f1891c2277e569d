package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DATA_DIR", "OCR_BACKEND_URL", "OCR_MAX_BATCH_SIZE"} {
		t.Setenv(k, "")
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadConfig_CreatesDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "OCRBatchDashboard.config")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "http://localhost:5000", cfg.Backend.BaseURL)
	assert.Equal(t, 20, cfg.Batching.MaxBatchSize)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 2*time.Second, cfg.ResourceInterval())
	assert.Equal(t, 3*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff())
	assert.Equal(t, []string{"image/png", "image/jpeg", "image/jpg"}, cfg.AllowedTypes())
	assert.Equal(t, filepath.Join(dir, "data", "spool"), cfg.Storage.SpoolDirectory)
	assert.True(t, filepath.IsAbs(cfg.Storage.MetricsDatabase))
}

func TestLoadConfig_RoundTripAndPartialFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "app.config")

	partial := `<?xml version="1.0"?>
<OCRBatchDashboard>
  <Backend><BaseURL>http://ocr:9000</BaseURL></Backend>
  <Batching><MaxBatchSize>8</MaxBatchSize><DefaultBatchSize>50</DefaultBatchSize></Batching>
</OCRBatchDashboard>`
	require.NoError(t, os.WriteFile(path, []byte(partial), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://ocr:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 8, cfg.Batching.MaxBatchSize)
	assert.Equal(t, 5, cfg.Batching.DefaultBatchSize)
	assert.Equal(t, 8090, cfg.Server.Port, "missing sections keep defaults")
	assert.Equal(t, 3, cfg.Batching.PollIntervalSeconds)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "elsewhere")
	t.Setenv("PORT", "9999")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("OCR_BACKEND_URL", "http://remote:5000")
	t.Setenv("OCR_MAX_BATCH_SIZE", "12")

	cfg, err := LoadConfig(filepath.Join(dir, "app.config"))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "http://remote:5000", cfg.Backend.BaseURL)
	assert.Equal(t, 12, cfg.Batching.MaxBatchSize)
	assert.Equal(t, filepath.Join(dataDir, "spool"), cfg.Storage.SpoolDirectory)
	assert.Equal(t, filepath.Join(dataDir, "preferences.json"), cfg.Storage.PreferencesFile)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("OCR_BACKEND_URL=http://from-dotenv:5000\n"), 0644))
	t.Setenv("ENV_FILE", envFile)
	os.Unsetenv("OCR_BACKEND_URL")
	t.Cleanup(func() { os.Unsetenv("OCR_BACKEND_URL") })

	cfg, err := LoadConfig(filepath.Join(dir, "app.config"))
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv:5000", cfg.Backend.BaseURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.config")
	require.NoError(t, os.WriteFile(bad, []byte("<OCRBatchDashboard><Server>"), 0644))
	_, err := LoadConfig(bad)
	assert.Error(t, err)

	zero := filepath.Join(dir, "zero.config")
	require.NoError(t, os.WriteFile(zero, []byte("<OCRBatchDashboard><Batching><MaxBatchSize>0</MaxBatchSize></Batching></OCRBatchDashboard>"), 0644))
	_, err = LoadConfig(zero)
	assert.Error(t, err)
}

func TestEnsureDirectories(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "app.config"))
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureDirectories())

	info, err := os.Stat(cfg.Storage.SpoolDirectory)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "0.0.0.0:8090", cfg.GetServerAddr())
}
