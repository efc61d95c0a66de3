package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
)

// CoordinatorConfig holds configuration for the fleet coordinator process.
type CoordinatorConfig struct {
	BindAddr string

	WorkerImage        string
	WorkerNamePrefix   string
	WorkerInternalPort int
	WorkerShmSizeMB    int
	HeadlessDefault    bool
	PruneOnStart       bool

	PortBase  int
	PortCount int

	HealthTimeoutSeconds  int
	HealthIntervalMS      int
	IdleTimeoutMinutes    int
	ReapIntervalSeconds   int
	ForwardTimeoutSeconds int

	MaxSessions int

	LogLevel string
	LogFile  string
}

// LoadCoordinator reads coordinator configuration from environment variables
// and an optional .env file.
func LoadCoordinator() (*CoordinatorConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &CoordinatorConfig{
		BindAddr:              getEnvOrDefault("FLEET_BIND_ADDR", "127.0.0.1:8488"),
		WorkerImage:           getEnvOrDefault("WORKER_IMAGE", "nodriver-mcp-browser"),
		WorkerNamePrefix:      getEnvOrDefault("WORKER_NAME_PREFIX", "fleet-worker"),
		WorkerInternalPort:    getEnvIntOrDefault("WORKER_INTERNAL_PORT", 9000),
		WorkerShmSizeMB:       getEnvIntOrDefault("WORKER_SHM_SIZE_MB", 2048),
		HeadlessDefault:       getEnvBoolOrDefault("WORKER_HEADLESS_DEFAULT", true),
		PruneOnStart:          getEnvBoolOrDefault("WORKER_PRUNE_ON_START", true),
		PortBase:              getEnvIntOrDefault("WORKER_PORT_BASE", 9001),
		PortCount:             getEnvIntOrDefault("WORKER_PORT_COUNT", 999),
		HealthTimeoutSeconds:  getEnvIntOrDefault("HEALTH_TIMEOUT_SECONDS", 60),
		HealthIntervalMS:      getEnvIntOrDefault("HEALTH_INTERVAL_MS", 1000),
		IdleTimeoutMinutes:    getEnvIntOrDefault("IDLE_TIMEOUT_MINUTES", 30),
		ReapIntervalSeconds:   getEnvIntOrDefault("REAP_INTERVAL_SECONDS", 60),
		ForwardTimeoutSeconds: getEnvIntOrDefault("FORWARD_TIMEOUT_SECONDS", 60),
		MaxSessions:           getEnvIntOrDefault("MAX_SESSIONS", 0),
		LogLevel:              strings.ToLower(getEnvOrDefault("FLEET_LOG_LEVEL", "info")),
		LogFile:               getEnvOrDefault("FLEET_LOG_FILE", ""),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *CoordinatorConfig) validate() error {
	if c.PortBase < 1 || c.PortBase > 65535 {
		return fmt.Errorf("WORKER_PORT_BASE %d out of range", c.PortBase)
	}
	if c.PortCount < 1 || c.PortBase+c.PortCount > 65536 {
		return fmt.Errorf("WORKER_PORT_COUNT %d leaves range [%d, %d) outside valid ports",
			c.PortCount, c.PortBase, c.PortBase+c.PortCount)
	}
	if c.WorkerInternalPort < 1 || c.WorkerInternalPort > 65535 {
		return fmt.Errorf("WORKER_INTERNAL_PORT %d out of range", c.WorkerInternalPort)
	}
	if c.HealthTimeoutSeconds < 1 {
		c.HealthTimeoutSeconds = 1
	}
	if c.HealthIntervalMS < 100 {
		c.HealthIntervalMS = 100
	}
	if c.ReapIntervalSeconds < 1 {
		c.ReapIntervalSeconds = 1
	}
	if c.ForwardTimeoutSeconds < 1 {
		c.ForwardTimeoutSeconds = 1
	}
	return nil
}

// ValidateProxyURL checks a session proxy URL for a scheme workers accept.
// Empty is allowed (no proxy).
func ValidateProxyURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("proxy url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("proxy url: missing host")
	}
	return nil
}
