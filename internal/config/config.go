// Package config loads service configuration from environment variables.
// Every field has a development default so a bare `go run` works against
// local backends.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all tunables for the server binary.
type Config struct {
	ListenAddr string

	// WebSocket server.
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// Live pool.
	PoolStaleAfter    time.Duration
	PoolSweepInterval time.Duration

	// Backends.
	PostgresDSN string
	RedisAddr   string
	NATSURL     string

	// Auth.
	JWTSecret string
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		WorkerPoolSize:    256,
		MaxConnections:    100000,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		PoolStaleAfter:    2 * time.Minute,
		PoolSweepInterval: 15 * time.Second,
		PostgresDSN:       "host=localhost user=social password=social dbname=social port=5432 sslmode=disable",
		RedisAddr:         "localhost:6379",
		NATSURL:           "nats://localhost:4222",
		JWTSecret:         "dev-secret",
	}
}

// FromEnv returns Default overridden by any set environment variables.
func FromEnv() Config {
	c := Default()

	setString(&c.ListenAddr, "LISTEN_ADDR")
	setInt(&c.WorkerPoolSize, "WORKER_POOL_SIZE")
	setInt(&c.MaxConnections, "MAX_CONNECTIONS")
	setDuration(&c.ReadTimeout, "READ_TIMEOUT")
	setDuration(&c.WriteTimeout, "WRITE_TIMEOUT")
	setDuration(&c.PoolStaleAfter, "POOL_STALE_AFTER")
	setDuration(&c.PoolSweepInterval, "POOL_SWEEP_INTERVAL")
	setString(&c.PostgresDSN, "POSTGRES_DSN")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.NATSURL, "NATS_URL")
	setString(&c.JWTSecret, "JWT_SECRET")

	return c
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
