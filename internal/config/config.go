/**
 * Configuration for the OCR service
 *
 * Loads configuration from environment variables (optionally seeded from .env by main)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration
type Config struct {
	// Application
	AppName    string
	AppVersion string
	APIPrefix  string
	Host       string
	Port       int

	// CORS
	AllowedOrigins []string

	// Upload validation
	MaxUploadSize      int64
	AcceptedImageTypes []string

	// Recognition engine
	OCRLanguages      []string
	OCRUseAccelerator bool
	OCRPageSegMode    int
	OCRMinHeight      int

	// Preprocessing
	EnhanceContrast bool

	// Request processing timeout in milliseconds
	ProcessingTimeout int

	LogLevel string
	LogJSON  bool

	// Async jobs (disabled when RedisURL is empty)
	RedisURL          string
	JobQueue          string
	WorkerConcurrency int
	JobResultTTL      int

	// Extraction history (disabled when DatabaseURL is empty)
	DatabaseURL string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppName:            getEnvOrDefault("APP_NAME", "OCR API"),
		AppVersion:         getEnvOrDefault("APP_VERSION", "1.0.0"),
		APIPrefix:          getEnvOrDefault("API_PREFIX", "/api/v1"),
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvAsIntOrDefault("PORT", 8000),
		AllowedOrigins:     getEnvAsListOrDefault("ALLOWED_ORIGINS", []string{"*"}),
		MaxUploadSize:      getEnvAsInt64OrDefault("MAX_UPLOAD_SIZE", 10485760), // 10MB
		AcceptedImageTypes: getEnvAsListOrDefault("ACCEPTED_IMAGE_TYPES", []string{"png", "jpeg"}),
		OCRLanguages:       getEnvAsListOrDefault("OCR_LANGUAGES", []string{"en"}),
		OCRUseAccelerator:  getEnvAsBoolOrDefault("OCR_USE_ACCELERATOR", false),
		OCRPageSegMode:     getEnvAsIntOrDefault("OCR_PAGE_SEG_MODE", 3),
		OCRMinHeight:       getEnvAsIntOrDefault("OCR_MIN_HEIGHT", 64),
		EnhanceContrast:    getEnvAsBoolOrDefault("PREPROCESS_ENHANCE_CONTRAST", false),
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 60000), // 1 minute
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogJSON:            getEnvAsBoolOrDefault("LOG_JSON", false),
		RedisURL:           getEnvOrDefault("REDIS_URL", ""),
		JobQueue:           getEnvOrDefault("JOB_QUEUE", "ocr:jobs"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		JobResultTTL:       getEnvAsIntOrDefault("JOB_RESULT_TTL", 86400), // 1 day
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("API_PREFIX must start with '/', got %q", c.APIPrefix)
	}

	if c.MaxUploadSize < 1024 || c.MaxUploadSize > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_UPLOAD_SIZE must be between 1KB and 100MB, got %d", c.MaxUploadSize)
	}

	if len(c.AcceptedImageTypes) == 0 {
		return fmt.Errorf("ACCEPTED_IMAGE_TYPES must name at least one type")
	}
	for _, t := range c.AcceptedImageTypes {
		switch strings.ToLower(t) {
		case "png", "jpeg", "jpg":
		default:
			return fmt.Errorf("ACCEPTED_IMAGE_TYPES contains unsupported type %q (png, jpeg)", t)
		}
	}

	if len(c.OCRLanguages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	if c.OCRPageSegMode < 0 || c.OCRPageSegMode > 13 {
		return fmt.Errorf("OCR_PAGE_SEG_MODE must be between 0 and 13, got %d", c.OCRPageSegMode)
	}

	if c.ProcessingTimeout < 100 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 100ms, got %d", c.ProcessingTimeout)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.RedisURL != "" && c.JobQueue == "" {
		return fmt.Errorf("JOB_QUEUE is required when REDIS_URL is set")
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns ProcessingTimeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// ResultTTL returns JobResultTTL as a duration.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.JobResultTTL) * time.Second
}

// AsyncJobsEnabled reports whether the Redis-backed job queue should run.
func (c *Config) AsyncJobsEnabled() bool {
	return c.RedisURL != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma-separated variable, dropping empty items.
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}

	return items
}
