// Package config reads service settings from the environment, after loading
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
)

// Persistence modes
const (
	PersistNone   = "none"
	PersistDirect = "direct"
	PersistQueue  = "queue"
)

// History backends
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	OCRProvider    string
	OCRGRPCAddr    string
	TesseractLangs []string
	VisionAPIKey   string

	AIEnabled         bool
	AIBaseURL         string
	AIAPIKey          string
	AIModel           string
	AITimeout         time.Duration
	AIFallbackToRules bool

	CameraDevice       string
	SamplingInterval   time.Duration
	StabilityThreshold float64
	StableFrames       int
	DuplicateCooldown  time.Duration
	PrefilterProfile   string
	PrefilterThreshold int // 0 keeps the profile's own threshold
	SuccessDisplay     time.Duration
	ErrorDisplay       time.Duration

	DatabaseURL      string
	RedisURL         string
	PersistMode      string
	HistoryBackend   string
	QueueConcurrency int
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperrors.Wrap(err, apperrors.ConfigInvalid, "load "+p)
		}
	}
	return nil
}

func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OCRProvider:    strings.ToLower(getEnv("OCR_PROVIDER", "tesseract")),
		OCRGRPCAddr:    getEnv("OCR_GRPC_ADDR", "localhost:50051"),
		TesseractLangs: getEnvList("TESSERACT_LANGS", []string{"jpn", "eng"}),
		VisionAPIKey:   getEnv("VISION_API_KEY", ""),

		AIEnabled:         getEnvBool("AI_ENABLED", false),
		AIBaseURL:         getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
		AIAPIKey:          getEnv("AI_API_KEY", ""),
		AIModel:           getEnv("AI_MODEL", "gpt-4o-mini"),
		AITimeout:         getEnvDuration("AI_TIMEOUT", 30*time.Second),
		AIFallbackToRules: getEnvBool("AI_FALLBACK_TO_RULES", true),

		CameraDevice:       getEnv("CAMERA_DEVICE", ""),
		SamplingInterval:   getEnvMillis("SAMPLING_INTERVAL_MS", 200),
		StabilityThreshold: getEnvFloat("STABILITY_THRESHOLD", 0.02),
		StableFrames:       getEnvInt("STABLE_FRAMES", 5),
		DuplicateCooldown:  getEnvMillis("DUPLICATE_COOLDOWN_MS", 3000),
		PrefilterProfile:   strings.ToLower(getEnv("PREFILTER_PROFILE", "camera")),
		PrefilterThreshold: getEnvInt("PREFILTER_THRESHOLD", 0),
		SuccessDisplay:     getEnvMillis("SUCCESS_DISPLAY_MS", 2000),
		ErrorDisplay:       getEnvMillis("ERROR_DISPLAY_MS", 3000),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		PersistMode:      strings.ToLower(getEnv("PERSIST_MODE", PersistNone)),
		HistoryBackend:   strings.ToLower(getEnv("HISTORY_BACKEND", HistoryMemory)),
		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 4),
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.OCRProvider != "tesseract" && c.OCRProvider != "vision" && c.OCRProvider != "grpc":
		return invalid("OCR_PROVIDER", c.OCRProvider)
	case c.OCRProvider == "vision" && c.VisionAPIKey == "":
		return missing("VISION_API_KEY", "OCR_PROVIDER=vision")
	case c.OCRProvider == "grpc" && c.OCRGRPCAddr == "":
		return missing("OCR_GRPC_ADDR", "OCR_PROVIDER=grpc")
	case c.AIEnabled && c.AIAPIKey == "":
		return missing("AI_API_KEY", "AI_ENABLED")
	case c.SamplingInterval <= 0:
		return invalid("SAMPLING_INTERVAL_MS", c.SamplingInterval)
	case c.StabilityThreshold <= 0 || c.StabilityThreshold >= 1:
		return invalid("STABILITY_THRESHOLD", c.StabilityThreshold)
	case c.StableFrames < 1:
		return invalid("STABLE_FRAMES", c.StableFrames)
	case c.DuplicateCooldown < 0:
		return invalid("DUPLICATE_COOLDOWN_MS", c.DuplicateCooldown)
	case c.PrefilterProfile != "camera" && c.PrefilterProfile != "still":
		return invalid("PREFILTER_PROFILE", c.PrefilterProfile)
	case c.PrefilterThreshold < 0 || c.PrefilterThreshold > 100:
		return invalid("PREFILTER_THRESHOLD", c.PrefilterThreshold)
	case c.SuccessDisplay <= 0 || c.ErrorDisplay <= 0:
		return invalid("SUCCESS_DISPLAY_MS/ERROR_DISPLAY_MS", fmt.Sprintf("%v/%v", c.SuccessDisplay, c.ErrorDisplay))
	case c.PersistMode != PersistNone && c.PersistMode != PersistDirect && c.PersistMode != PersistQueue:
		return invalid("PERSIST_MODE", c.PersistMode)
	case c.PersistMode == PersistDirect && c.DatabaseURL == "":
		return missing("DATABASE_URL", "PERSIST_MODE=direct")
	case c.PersistMode == PersistQueue && c.RedisURL == "":
		return missing("REDIS_URL", "PERSIST_MODE=queue")
	case c.HistoryBackend != HistoryMemory && c.HistoryBackend != HistoryRedis:
		return invalid("HISTORY_BACKEND", c.HistoryBackend)
	case c.HistoryBackend == HistoryRedis && c.RedisURL == "":
		return missing("REDIS_URL", "HISTORY_BACKEND=redis")
	case c.QueueConcurrency < 1:
		return invalid("QUEUE_CONCURRENCY", c.QueueConcurrency)
	}
	return nil
}

func invalid(key string, v any) error {
	return apperrors.Newf(apperrors.ConfigInvalid, "invalid %s: %v", key, v).WithMetadata("key", key)
}

func missing(key, because string) error {
	return apperrors.Newf(apperrors.ConfigMissing, "%s is required when %s", key, because).WithMetadata("key", key)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvMillis(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Millisecond
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(s * float64(time.Second))
	}
	return def
}

func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' }) {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
