package appconfig

import (
	"fmt"

	"github.com/google/uuid"
)

// Config represents the gaspd service configuration: the HTTP binding, the
// Engine's protocol parameters, and the peer this instance syncs against.
type Config struct {
	AppName      string `mapstructure:"app_name"`
	Port         int    `mapstructure:"port"`
	Addr         string `mapstructure:"addr"`
	ServerHeader string `mapstructure:"server_header"`

	// AdminBearerToken is the admin token; Validate requires it to be a UUID.
	// No gasphttp.Server route checks it.
	AdminBearerToken string `mapstructure:"admin_bearer_token"`

	// Topic scopes this instance's graph namespace; requests carrying a
	// different X-BSV-Topic header are rejected.
	Topic string `mapstructure:"topic"`

	// PeerURL is the base URL of the remote gasphttp.Server this instance
	// syncs against, e.g. "http://peer:8080/gasp". Empty disables outbound
	// Sync (this instance still answers inbound requests).
	PeerURL string `mapstructure:"peer_url"`

	// Version is the protocol version this engine speaks.
	Version int `mapstructure:"version"`

	// Unidirectional disables the push phase of Sync.
	Unidirectional bool `mapstructure:"unidirectional"`

	// SinceDefault seeds the Engine's LastInteraction at startup. Sync updates
	// LastInteraction in memory only; it is not persisted across restarts.
	SinceDefault uint64 `mapstructure:"since_default"`

	// Concurrency bounds parallel graph/ancestor fan-out inside Engine.
	Concurrency int `mapstructure:"concurrency"`

	// NetworkConcurrency bounds concurrent outbound HTTP calls made by
	// HTTPRemote, independent of Concurrency.
	NetworkConcurrency int `mapstructure:"network_concurrency"`

	// MaxNodesPerGraph bounds how large a single temporary graph may grow
	// before gaspstore.Store rejects further appends. Zero means unlimited.
	MaxNodesPerGraph int `mapstructure:"max_nodes_per_graph"`

	// LogLevel is the gookit/slog level name (debug, info, warn, error) the
	// service logs at.
	LogLevel string `mapstructure:"log_level"`
}

// Defaults returns the default configuration values.
func Defaults() Config {
	return Config{
		AppName:            "GASP Sync v0.0.0",
		Port:               8080,
		Addr:               "localhost",
		ServerHeader:       "GASP Sync",
		AdminBearerToken:   uuid.NewString(),
		Version:            1,
		Unidirectional:     false,
		SinceDefault:       0,
		Concurrency:        16,
		NetworkConcurrency: 8,
		MaxNodesPerGraph:   0,
		LogLevel:           "info",
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.AdminBearerToken == "" {
		return fmt.Errorf("admin bearer token is required")
	}
	if _, err := uuid.Parse(c.AdminBearerToken); err != nil {
		return fmt.Errorf("admin bearer token is not a valid uuid")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Version <= 0 {
		return fmt.Errorf("version must be positive, got %d", c.Version)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.NetworkConcurrency <= 0 {
		return fmt.Errorf("network_concurrency must be positive, got %d", c.NetworkConcurrency)
	}
	if c.MaxNodesPerGraph < 0 {
		return fmt.Errorf("max_nodes_per_graph must not be negative, got %d", c.MaxNodesPerGraph)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level: %s", c.LogLevel)
	}
	return nil
}
