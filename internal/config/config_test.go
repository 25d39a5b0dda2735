package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
)

var keys = []string{
	"HTTP_ADDR", "LOG_LEVEL", "OCR_PROVIDER", "OCR_GRPC_ADDR", "TESSERACT_LANGS", "VISION_API_KEY",
	"AI_ENABLED", "AI_BASE_URL", "AI_API_KEY", "AI_MODEL", "AI_TIMEOUT", "AI_FALLBACK_TO_RULES",
	"CAMERA_DEVICE", "SAMPLING_INTERVAL_MS", "STABILITY_THRESHOLD", "STABLE_FRAMES",
	"DUPLICATE_COOLDOWN_MS", "PREFILTER_PROFILE", "PREFILTER_THRESHOLD",
	"SUCCESS_DISPLAY_MS", "ERROR_DISPLAY_MS", "DATABASE_URL", "REDIS_URL",
	"PERSIST_MODE", "HISTORY_BACKEND", "QUEUE_CONCURRENCY",
}

// clearEnv blanks every key for the test; Load treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "tesseract", cfg.OCRProvider)
	assert.Equal(t, []string{"jpn", "eng"}, cfg.TesseractLangs)
	assert.False(t, cfg.AIEnabled)
	assert.True(t, cfg.AIFallbackToRules)
	assert.Equal(t, 30*time.Second, cfg.AITimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.SamplingInterval)
	assert.Equal(t, 0.02, cfg.StabilityThreshold)
	assert.Equal(t, 5, cfg.StableFrames)
	assert.Equal(t, 3*time.Second, cfg.DuplicateCooldown)
	assert.Equal(t, "camera", cfg.PrefilterProfile)
	assert.Equal(t, 2*time.Second, cfg.SuccessDisplay)
	assert.Equal(t, 3*time.Second, cfg.ErrorDisplay)
	assert.Equal(t, PersistNone, cfg.PersistMode)
	assert.Equal(t, HistoryMemory, cfg.HistoryBackend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCR_PROVIDER", "Vision")
	t.Setenv("VISION_API_KEY", "k")
	t.Setenv("TESSERACT_LANGS", "jpn+eng, chi_sim")
	t.Setenv("AI_TIMEOUT", "12")
	t.Setenv("AI_FALLBACK_TO_RULES", "false")
	t.Setenv("DUPLICATE_COOLDOWN_MS", "1500")
	t.Setenv("STABLE_FRAMES", "not-a-number")

	cfg := Load()
	assert.Equal(t, "vision", cfg.OCRProvider)
	assert.Equal(t, []string{"jpn", "eng", "chi_sim"}, cfg.TesseractLangs)
	assert.Equal(t, 12*time.Second, cfg.AITimeout)
	assert.False(t, cfg.AIFallbackToRules)
	assert.Equal(t, 1500*time.Millisecond, cfg.DuplicateCooldown)
	assert.Equal(t, 5, cfg.StableFrames, "unparsable value keeps the default")
	assert.NoError(t, cfg.Validate())

	t.Setenv("AI_TIMEOUT", "750ms")
	assert.Equal(t, 750*time.Millisecond, Load().AITimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		code apperrors.Code
	}{
		{"provider", func(c *Config) { c.OCRProvider = "abbyy" }, apperrors.ConfigInvalid},
		{"vision key", func(c *Config) { c.OCRProvider = "vision" }, apperrors.ConfigMissing},
		{"ai key", func(c *Config) { c.AIEnabled = true }, apperrors.ConfigMissing},
		{"threshold", func(c *Config) { c.StabilityThreshold = 1.5 }, apperrors.ConfigInvalid},
		{"stable frames", func(c *Config) { c.StableFrames = 0 }, apperrors.ConfigInvalid},
		{"profile", func(c *Config) { c.PrefilterProfile = "video" }, apperrors.ConfigInvalid},
		{"prefilter threshold", func(c *Config) { c.PrefilterThreshold = 101 }, apperrors.ConfigInvalid},
		{"persist mode", func(c *Config) { c.PersistMode = "s3" }, apperrors.ConfigInvalid},
		{"direct needs db", func(c *Config) { c.PersistMode = PersistDirect }, apperrors.ConfigMissing},
		{"queue needs redis", func(c *Config) { c.PersistMode = PersistQueue }, apperrors.ConfigMissing},
		{"redis history", func(c *Config) { c.HistoryBackend = HistoryRedis }, apperrors.ConfigMissing},
		{"concurrency", func(c *Config) { c.QueueConcurrency = 0 }, apperrors.ConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := Load()
			tt.mut(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:9001\nAI_MODEL=gpt-4o\n"), 0o600))

	// godotenv does not override variables already present, and an empty
	// value counts as present, so unset the two keys first.
	require.NoError(t, os.Unsetenv("HTTP_ADDR"))
	require.NoError(t, os.Unsetenv("AI_MODEL"))
	t.Cleanup(func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("AI_MODEL")
	})

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	cfg := Load()
	assert.Equal(t, ":9001", cfg.HTTPAddr)
	assert.Equal(t, "gpt-4o", cfg.AIModel)
}
