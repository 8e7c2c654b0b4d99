// Package config holds the runtime configuration for the worklist server
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration settings for the worklist server
type Config struct {
	// API server
	APIHost  string
	APIPort  int
	LogLevel string

	// Workitem and subscription storage: "memory" or "redis"
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Archive of finished workitems; empty disables archiving
	ArchiveBucketURL string
	ArchivePrefix    string

	// Notification pipeline
	SubscriberQueueSize int

	ShutdownTimeout time.Duration
}

const (
	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8080
	MaxTCPPort     = 65535

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisDB     = 0
	DefaultRedisPrefix = "upsd"

	DefaultSubscriberQueueSize = 256
	MaxSubscriberQueueSize     = 1_000_000

	DefaultShutdownTimeout = 10 * time.Second
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

var (
	ErrInvalidAPIPort      = errors.New("invalid API port")
	ErrInvalidStoreBackend = errors.New("invalid store backend")
	ErrInvalidQueueSize    = errors.New("subscriber queue size must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:             DefaultAPIHost,
		APIPort:             DefaultAPIPort,
		LogLevel:            "info",
		StoreBackend:        StoreMemory,
		RedisAddr:           DefaultRedisAddr,
		RedisDB:             DefaultRedisDB,
		RedisPrefix:         DefaultRedisPrefix,
		ArchivePrefix:       "workitems/",
		SubscriberQueueSize: DefaultSubscriberQueueSize,
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from UPSD_* environment
// variables. Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("UPSD_API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("UPSD_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if backend := os.Getenv("UPSD_STORE"); backend != "" {
		c.StoreBackend = backend
	}
	if addr := os.Getenv("UPSD_REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
	if password := os.Getenv("UPSD_REDIS_PASSWORD"); password != "" {
		c.RedisPassword = password
	}
	if prefix := os.Getenv("UPSD_REDIS_PREFIX"); prefix != "" {
		c.RedisPrefix = prefix
	}
	if bucketURL := os.Getenv("UPSD_ARCHIVE_BUCKET_URL"); bucketURL != "" {
		c.ArchiveBucketURL = bucketURL
	}
	if prefix := os.Getenv("UPSD_ARCHIVE_PREFIX"); prefix != "" {
		c.ArchivePrefix = prefix
	}

	if err := loadEnvInt("UPSD_API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("UPSD_REDIS_DB", &c.RedisDB, 0, 15); err != nil {
		return err
	}
	return loadEnvInt(
		"UPSD_SUBSCRIBER_QUEUE_SIZE", &c.SubscriberQueueSize,
		0, MaxSubscriberQueueSize,
	)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.StoreBackend != StoreMemory && c.StoreBackend != StoreRedis {
		return fmt.Errorf("%w: %s", ErrInvalidStoreBackend, c.StoreBackend)
	}
	if c.SubscriberQueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	return nil
}

func loadEnvInt(name string, target *int, minVal, maxVal int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if value < minVal || value > maxVal {
		return fmt.Errorf("%s out of range: %d", name, value)
	}
	*target = value
	return nil
}
