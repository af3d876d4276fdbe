package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Redis  RedisConfig
	Server ServerConfig
	Queue  QueueConfig
	Worker WorkerConfig
	LLM    LLMConfig
	Raster RasterConfig
}

// RedisConfig holds connection settings shared by the queue and status store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// QueueConfig names the stream and consumer group.
type QueueConfig struct {
	Stream         string
	Group          string
	DeadStream     string
	ReclaimMinIdle time.Duration
}

// WorkerConfig holds worker loop behavior.
type WorkerConfig struct {
	Consumers   int
	ClaimBlock  time.Duration
	MaxAttempts int
	RetryPolicy string // "retry" | "ack"
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// LLMConfig holds model-related configuration
type LLMConfig struct {
	Model       string
	VisionModel string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// RasterConfig holds page rendering configuration for vision-ocr.
type RasterConfig struct {
	Pdftoppm string
	DPI      int
	MaxPages int
}

// Retry policies for backend failures (see WorkerConfig.RetryPolicy).
const (
	RetryPolicyRetry = "retry" // bounded redelivery, then error + dead-letter
	RetryPolicyAck   = "ack"   // terminal error on first failure
)

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8000"),
			MaxUploadBytes:  getEnvAsInt64("MAX_UPLOAD_BYTES", 32<<20),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			Stream:         getEnv("QUEUE_STREAM", "documents"),
			Group:          getEnv("QUEUE_GROUP", "doc-workers"),
			DeadStream:     getEnv("QUEUE_DEAD_STREAM", ""),
			ReclaimMinIdle: getEnvAsDuration("QUEUE_RECLAIM_MIN_IDLE", 30*time.Second),
		},
		Worker: WorkerConfig{
			Consumers:   getEnvAsInt("WORKER_CONSUMERS", 1),
			ClaimBlock:  getEnvAsDuration("WORKER_CLAIM_BLOCK", time.Second),
			MaxAttempts: getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
			RetryPolicy: getEnv("WORKER_RETRY_POLICY", RetryPolicyRetry),
			BackoffBase: getEnvAsDuration("WORKER_BACKOFF_BASE", time.Second),
			BackoffMax:  getEnvAsDuration("WORKER_BACKOFF_MAX", 30*time.Second),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			VisionModel: getEnv("OPENAI_VISION_MODEL", "gpt-4o"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Raster: RasterConfig{
			Pdftoppm: getEnv("PDFTOPPM", "pdftoppm"),
			DPI:      getEnvAsInt("RASTER_DPI", 300),
			MaxPages: getEnvAsInt("RASTER_MAX_PAGES", 0),
		},
	}
}

// ValidateServer validates the fields the API process needs.
func (c *Config) ValidateServer() error {
	if c.Redis.Addr == "" {
		return NewAppError("CONFIG_ERROR", "REDIS_ADDR is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Queue.Stream == "" || c.Queue.Group == "" {
		return NewAppError("CONFIG_ERROR", "QUEUE_STREAM and QUEUE_GROUP are required", ErrInvalidInput)
	}
	return nil
}

// ValidateWorker validates the fields the worker process needs.
func (c *Config) ValidateWorker() error {
	if c.Redis.Addr == "" {
		return NewAppError("CONFIG_ERROR", "REDIS_ADDR is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Worker.RetryPolicy != RetryPolicyRetry && c.Worker.RetryPolicy != RetryPolicyAck {
		return NewAppError("CONFIG_ERROR", "WORKER_RETRY_POLICY must be \"retry\" or \"ack\"", ErrInvalidInput)
	}
	if c.Worker.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "WORKER_MAX_ATTEMPTS must be >= 1", ErrInvalidInput)
	}
	return nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
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
