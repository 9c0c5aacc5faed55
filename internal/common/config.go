package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Vision   VisionConfig
	Marks    MarksConfig
	Batch    BatchConfig
	Quota    QuotaConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// VisionConfig holds configuration for the external AI localization and
// text-recognition services.
type VisionConfig struct {
	LocateURL  string
	TextURL    string
	APIKey     string
	Timeout    time.Duration
	MinBoxSide float64 // normalized; below this a candidate box is a sliver
	MaxBoxSide float64 // normalized; above this a box spans unrelated content
}

// MarksConfig holds checkbox density thresholds. All three are tunable per
// deployment so form templates with heavier print do not need code changes.
type MarksConfig struct {
	LuminanceCutoff uint8   // pixels darker than this count as ink
	LowThreshold    float64 // density at or below -> unmarked
	HighThreshold   float64 // density at or above -> marked
}

// BatchConfig holds orchestrator limits.
type BatchConfig struct {
	MaxItemsPerJob int
	WorkersPerJob  int
	GlobalWorkers  int
	MaxRetries     int
	ItemTimeout    time.Duration
	InFlightLease  time.Duration
	SweepInterval  time.Duration
}

// QuotaConfig holds tenant admission defaults.
type QuotaConfig struct {
	DefaultMonthly int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		Vision: VisionConfig{
			LocateURL:  getEnv("VISION_LOCATE_URL", ""),
			TextURL:    getEnv("VISION_TEXT_URL", ""),
			APIKey:     getEnv("VISION_API_KEY", ""),
			Timeout:    getEnvAsDuration("VISION_TIMEOUT", 30*time.Second),
			MinBoxSide: getEnvAsFloat64("VISION_MIN_BOX_SIDE", 0.004),
			MaxBoxSide: getEnvAsFloat64("VISION_MAX_BOX_SIDE", 0.12),
		},
		Marks: MarksConfig{
			LuminanceCutoff: uint8(getEnvAsInt("MARKS_LUMINANCE_CUTOFF", 128)),
			LowThreshold:    getEnvAsFloat64("MARKS_LOW_THRESHOLD", 0.08),
			HighThreshold:   getEnvAsFloat64("MARKS_HIGH_THRESHOLD", 0.25),
		},
		Batch: BatchConfig{
			MaxItemsPerJob: getEnvAsInt("BATCH_MAX_ITEMS", 500),
			WorkersPerJob:  getEnvAsInt("BATCH_WORKERS_PER_JOB", 4),
			GlobalWorkers:  getEnvAsInt("BATCH_GLOBAL_WORKERS", 16),
			MaxRetries:     getEnvAsInt("BATCH_MAX_RETRIES", 2),
			ItemTimeout:    getEnvAsDuration("BATCH_ITEM_TIMEOUT", 2*time.Minute),
			InFlightLease:  getEnvAsDuration("BATCH_INFLIGHT_LEASE", 5*time.Minute),
			SweepInterval:  getEnvAsDuration("BATCH_SWEEP_INTERVAL", 30*time.Second),
		},
		Quota: QuotaConfig{
			DefaultMonthly: getEnvAsInt("QUOTA_DEFAULT_MONTHLY", 2000),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Marks.LowThreshold >= c.Marks.HighThreshold {
		return NewAppError("CONFIG_ERROR", "MARKS_LOW_THRESHOLD must be below MARKS_HIGH_THRESHOLD", ErrInvalidInput)
	}
	if c.Vision.MinBoxSide >= c.Vision.MaxBoxSide {
		return NewAppError("CONFIG_ERROR", "VISION_MIN_BOX_SIDE must be below VISION_MAX_BOX_SIDE", ErrInvalidInput)
	}
	if c.Batch.MaxItemsPerJob <= 0 {
		return NewAppError("CONFIG_ERROR", "BATCH_MAX_ITEMS must be positive", ErrInvalidInput)
	}
	return nil
}
