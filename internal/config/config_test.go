package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "development", cfg.Server.Environment)

	assert.Equal(t, 50*time.Millisecond, cfg.Pipeline.LockRetryInterval)
	assert.Equal(t, 40, cfg.Pipeline.LockMaxRetries)
	assert.False(t, cfg.Pipeline.GeneratePDF)

	assert.Equal(t, "minimal", cfg.Intake.RawStorageLevel)
	assert.Equal(t, 262144, cfg.Intake.MaxRawBytes)

	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, int64(536870912), cfg.Retention.PerJobBytes)
	assert.Equal(t, 3, cfg.Retention.MinKeepCount)
	assert.Equal(t, "delete", cfg.Retention.Mode)

	assert.Equal(t, "claude", cfg.Extractor.Provider)
	assert.Equal(t, "gemini", cfg.OCR.Provider)
	assert.NotEmpty(t, cfg.OCR.FallbackModel)

	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QCERT_SERVER_PORT", ":9191")
	t.Setenv("QCERT_RETENTION_MODE", "compress")
	t.Setenv("QCERT_EXTRACTOR_API_KEY", "sk-test")
	t.Setenv("QCERT_PIPELINE_LOCK_MAX_RETRIES", "7")
	t.Setenv("QCERT_CORS_ALLOWED_ORIGINS", "https://qc.example.com, https://qa.example.com,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.Server.Port)
	assert.Equal(t, "compress", cfg.Retention.Mode)
	assert.Equal(t, "sk-test", cfg.Extractor.APIKey)
	assert.Equal(t, 7, cfg.Pipeline.LockMaxRetries)
	assert.Equal(t, []string{"https://qc.example.com", "https://qa.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_PlatformPort(t *testing.T) {
	t.Setenv("PORT", "3456")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":3456", cfg.Server.Port)

	// explicit setting wins over the platform variable
	t.Setenv("QCERT_SERVER_PORT", ":8088")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.Server.Port)
}
