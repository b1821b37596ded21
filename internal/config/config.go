// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible defaults.
// All timeouts and operational parameters are configurable.
//
// Configuration categories:
//   - Transport: gateway URL, auth token, client id, protocol range
//   - Backoff: reconnect delay schedule
//   - BinaryBackpressure: binary backlog cap while no consumer is attached
//   - Store: KV store backing file
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TransportConfig holds the gateway connection identity and handshake
// parameters (spec §4.3).
type TransportConfig struct {
	GatewayURL       string        // GATEWAY_URL (default: none, required)
	AuthToken        string        // GATEWAY_AUTH_TOKEN
	ClientID         string        // GATEWAY_CLIENT_ID (default: empty; sent as-is in the client hello)
	ProtocolMin      int           // GATEWAY_PROTOCOL_MIN (default: 1)
	ProtocolMax      int           // GATEWAY_PROTOCOL_MAX (default: 1)
	HandshakeTimeout time.Duration // GATEWAY_HANDSHAKE_TIMEOUT (default: 5s)
}

// BackoffConfig holds the reconnect delay schedule (spec §4.3: delay =
// min(base * 2^retry, cap)).
type BackoffConfig struct {
	Base time.Duration // GATEWAY_BACKOFF_BASE (default: 1s)
	Cap  time.Duration // GATEWAY_BACKOFF_CAP (default: 30s)
}

// BinaryBackpressureConfig holds the binary backlog cap while no binary
// consumer is attached (spec §4.3).
type BinaryBackpressureConfig struct {
	BacklogCapBytes int // GATEWAY_BINARY_BACKLOG_BYTES (default: 1MiB)
}

// StoreConfig holds the KV store's backing file (spec §6 collaborator).
type StoreConfig struct {
	DBPath string // KV_DB_PATH (default: ./data/gatewayrt.db; empty uses in-memory)
}

// Config holds all application configuration.
type Config struct {
	StatusAddr         string // STATUS_ADDR (default: 127.0.0.1:8088)
	Transport          TransportConfig
	Backoff            BackoffConfig
	BinaryBackpressure BinaryBackpressureConfig
	Store              StoreConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		StatusAddr: getEnv("STATUS_ADDR", "127.0.0.1:8088"),
		Transport: TransportConfig{
			GatewayURL:       getEnv("GATEWAY_URL", ""),
			AuthToken:        getEnv("GATEWAY_AUTH_TOKEN", ""),
			ClientID:         getEnv("GATEWAY_CLIENT_ID", ""),
			ProtocolMin:      getEnvInt("GATEWAY_PROTOCOL_MIN", 1),
			ProtocolMax:      getEnvInt("GATEWAY_PROTOCOL_MAX", 1),
			HandshakeTimeout: getEnvDuration("GATEWAY_HANDSHAKE_TIMEOUT", 5*time.Second),
		},
		Backoff: BackoffConfig{
			Base: getEnvDuration("GATEWAY_BACKOFF_BASE", time.Second),
			Cap:  getEnvDuration("GATEWAY_BACKOFF_CAP", 30*time.Second),
		},
		BinaryBackpressure: BinaryBackpressureConfig{
			BacklogCapBytes: getEnvInt("GATEWAY_BINARY_BACKLOG_BYTES", 1<<20),
		},
		Store: StoreConfig{
			DBPath: getEnv("KV_DB_PATH", "./data/gatewayrt.db"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Transport.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL cannot be empty")
	}
	if !strings.HasPrefix(c.Transport.GatewayURL, "ws://") && !strings.HasPrefix(c.Transport.GatewayURL, "wss://") {
		return fmt.Errorf("GATEWAY_URL must use ws:// or wss://, got %q", c.Transport.GatewayURL)
	}
	if c.Transport.ProtocolMin <= 0 || c.Transport.ProtocolMax < c.Transport.ProtocolMin {
		return fmt.Errorf("GATEWAY_PROTOCOL_MIN/GATEWAY_PROTOCOL_MAX invalid: %d/%d", c.Transport.ProtocolMin, c.Transport.ProtocolMax)
	}
	if c.StatusAddr == "" {
		return fmt.Errorf("STATUS_ADDR cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
