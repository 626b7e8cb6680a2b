// Package config reads service settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"
)

// Config holds all configuration values.
type Config struct {
	// Server
	Port           string
	AllowedOrigins []string
	RateLimit      string // limiter format, e.g. "30-M"
	MaxUploadBytes int64

	// Directories
	ModelDir  string
	OutputDir string
	SketchDir string
	UploadDir string

	// ONNX Runtime
	ONNXLibraryPath string
	UseGPU          bool
	GPUDeviceID     int
	NumThreads      int

	// Inference
	EnsembleSamples     int
	MaxEnsembleSamples  int
	NoiseScale          float64
	EnsembleParallelism int
	InferenceTimeout    time.Duration

	// Logging
	LogFile     string
	LogLevel    string
	Development bool
}

// Load reads envFile (if it exists) into the environment, then builds a
// Config from environment variables. Variables already set in the
// environment take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "8000"),
		AllowedOrigins: parseListEnv("ALLOWED_ORIGINS", []string{"*"}),
		RateLimit:      getEnvOrDefault("RATE_LIMIT", "30-M"),
		MaxUploadBytes: parseInt64Env("MAX_UPLOAD_MB", 10) << 20,

		ModelDir:  getEnvOrDefault("MODEL_DIR", "./models"),
		OutputDir: getEnvOrDefault("OUTPUT_DIR", "./generated_images"),
		SketchDir: getEnvOrDefault("SKETCH_DIR", "./generated_images/sketches"),
		UploadDir: getEnvOrDefault("UPLOAD_DIR", "./uploaded_sketches"),

		ONNXLibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
		UseGPU:          parseBoolEnv("ONNX_USE_GPU", false),
		GPUDeviceID:     parseIntEnv("ONNX_GPU_DEVICE", 0),
		NumThreads:      parseIntEnv("ONNX_THREADS", 0),

		EnsembleSamples:     parseIntEnv("ENSEMBLE_SAMPLES", 3),
		MaxEnsembleSamples:  parseIntEnv("MAX_ENSEMBLE_SAMPLES", 16),
		NoiseScale:          parseFloat64Env("ENSEMBLE_NOISE", 0.02),
		EnsembleParallelism: parseIntEnv("ENSEMBLE_PARALLELISM", runtime.GOMAXPROCS(0)),
		InferenceTimeout:    time.Duration(parseIntEnv("INFERENCE_TIMEOUT_SECONDS", 120)) * time.Second,

		LogFile:     getEnvOrDefault("LOG_FILE", "./logs/sketch-api.log"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		Development: parseBoolEnv("DEVELOPMENT", false),
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("config: PORT must not be empty")
	case c.EnsembleSamples < 1:
		return fmt.Errorf("config: ENSEMBLE_SAMPLES must be at least 1, got %d", c.EnsembleSamples)
	case c.EnsembleSamples > c.MaxEnsembleSamples:
		return fmt.Errorf("config: ENSEMBLE_SAMPLES %d exceeds MAX_ENSEMBLE_SAMPLES %d", c.EnsembleSamples, c.MaxEnsembleSamples)
	case c.NoiseScale < 0:
		return fmt.Errorf("config: ENSEMBLE_NOISE must not be negative, got %g", c.NoiseScale)
	case c.EnsembleParallelism < 1:
		return fmt.Errorf("config: ENSEMBLE_PARALLELISM must be at least 1, got %d", c.EnsembleParallelism)
	case c.MaxUploadBytes <= 0:
		return errors.New("config: MAX_UPLOAD_MB must be positive")
	case c.InferenceTimeout < 0:
		return errors.New("config: INFERENCE_TIMEOUT_SECONDS must not be negative")
	}
	if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
		return fmt.Errorf("config: RATE_LIMIT %q: %w", c.RateLimit, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloat64Env(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// parseListEnv splits a comma-separated variable, dropping empty entries.
func parseListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
