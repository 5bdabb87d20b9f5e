// Package config assembles the engine's runtime configuration from
// environment variables with documented defaults, validated once at
// startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the engine's full runtime configuration. Every field has a
// documented default; nothing here is read from an ambient global.
type Config struct {
	ServiceName string
	Development bool

	// Worker timeouts
	LLMWorkerTimeout time.Duration
	APIWorkerTimeout time.Duration
	WorkerMaxRetries int
	RetryBaseDelay   time.Duration

	// Idempotency cache
	IdempotencyCacheSize int
	IdempotencyCacheTTL  time.Duration

	// Event bus
	SubscriberQueueDepth int
	SubscriberIdleTTL    time.Duration
	ReplayBufferSize     int
	EnableReplayBuffer   bool

	// Chat
	ChatConfidenceThreshold float64

	// Redis backing (optional; empty Addr means in-memory only)
	RedisAddr string
	RedisDB   int
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		ServiceName:              "itinerary-engine",
		Development:              true,
		LLMWorkerTimeout:         60 * time.Second,
		APIWorkerTimeout:         30 * time.Second,
		WorkerMaxRetries:         2,
		RetryBaseDelay:           500 * time.Millisecond,
		IdempotencyCacheSize:     10_000,
		IdempotencyCacheTTL:      time.Hour,
		SubscriberQueueDepth:     256,
		SubscriberIdleTTL:        30 * time.Minute,
		ReplayBufferSize:         50,
		EnableReplayBuffer:       false,
		ChatConfidenceThreshold:  0.6,
		RedisAddr:                "",
		RedisDB:                  0,
	}
}

// FromEnv overlays environment variables onto the defaults.
func FromEnv() (*Config, error) {
	c := Default()

	if v := os.Getenv("ITIN_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("ITIN_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: ITIN_DEVELOPMENT: %w", err)
		}
		c.Development = b
	}
	if v := os.Getenv("ITIN_LLM_WORKER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: ITIN_LLM_WORKER_TIMEOUT: %w", err)
		}
		c.LLMWorkerTimeout = d
	}
	if v := os.Getenv("ITIN_API_WORKER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: ITIN_API_WORKER_TIMEOUT: %w", err)
		}
		c.APIWorkerTimeout = d
	}
	if v := os.Getenv("ITIN_IDEMPOTENCY_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: ITIN_IDEMPOTENCY_CACHE_SIZE: %w", err)
		}
		c.IdempotencyCacheSize = n
	}
	if v := os.Getenv("ITIN_CHAT_CONFIDENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: ITIN_CHAT_CONFIDENCE_THRESHOLD: %w", err)
		}
		c.ChatConfidenceThreshold = f
	}
	if v := os.Getenv("ITIN_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects an unusable configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("config: service name is required")
	}
	if c.LLMWorkerTimeout <= 0 || c.APIWorkerTimeout <= 0 {
		return fmt.Errorf("config: worker timeouts must be positive")
	}
	if c.IdempotencyCacheSize <= 0 {
		return fmt.Errorf("config: idempotency cache size must be positive")
	}
	if c.ChatConfidenceThreshold < 0 || c.ChatConfidenceThreshold > 1 {
		return fmt.Errorf("config: chat confidence threshold must be in [0,1]")
	}
	return nil
}
