// Package config provides environment-variable configuration for
// inverter-link, following the same default-then-override shape as
// this stack's JSON-file config loader, adapted to environment
// variables since this library has no config file of its own.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the timeouts and retry parameters documented for this
// protocol client. Every field has a default; environment variables
// only override what is set.
type Config struct {
	DialTimeout        time.Duration
	MaxRetries         int
	InitialBackoff     time.Duration
	BackoffMultiplier  float64
	IdleCloseTimeout   time.Duration
	ReceiveTimeout     time.Duration
	CacheTTL           time.Duration
	CacheMaxSize       int
}

// DefaultConfig returns the documented defaults: 5s dial timeout, 10
// retries at 100ms initial backoff doubling each attempt, 90s idle
// close, 2s receive timeout.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:       5000 * time.Millisecond,
		MaxRetries:        10,
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		IdleCloseTimeout:  90000 * time.Millisecond,
		ReceiveTimeout:    2000 * time.Millisecond,
		CacheTTL:          2000 * time.Millisecond,
		CacheMaxSize:      256,
	}
}

// Load returns DefaultConfig with any recognized environment variable
// overrides applied: DIAL_TIMEOUT, MAX_RETRIES, INITIAL_BACKOFF,
// BACKOFF_MULTIPLIER, IDLE_CLOSE_TIMEOUT, RECEIVE_TIMEOUT,
// CACHE_TTL, CACHE_MAX_SIZE. Timeout variables are milliseconds.
func Load() *Config {
	cfg := DefaultConfig()

	if v, ok := envMillis("DIAL_TIMEOUT"); ok {
		cfg.DialTimeout = v
	}
	if v, ok := envInt("MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	if v, ok := envMillis("INITIAL_BACKOFF"); ok {
		cfg.InitialBackoff = v
	}
	if v, ok := envFloat("BACKOFF_MULTIPLIER"); ok {
		cfg.BackoffMultiplier = v
	}
	if v, ok := envMillis("IDLE_CLOSE_TIMEOUT"); ok {
		cfg.IdleCloseTimeout = v
	}
	if v, ok := envMillis("RECEIVE_TIMEOUT"); ok {
		cfg.ReceiveTimeout = v
	}
	if v, ok := envMillis("CACHE_TTL"); ok {
		cfg.CacheTTL = v
	}
	if v, ok := envInt("CACHE_MAX_SIZE"); ok {
		cfg.CacheMaxSize = v
	}

	return cfg
}

func envInt(name string) (int, bool) {
	raw, present := os.LookupEnv(name)
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	raw, present := os.LookupEnv(name)
	if !present {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envMillis(name string) (time.Duration, bool) {
	n, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
