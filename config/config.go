package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

var ErrUsage = errors.New("config: expected <address> <port> <threads>")

// Config holds everything the process needs to start.
type Config struct {
	Server    ServerConfig
	Admin     AdminConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Host    string // bind address
	Port    int    // bind port
	Threads int    // worker threads, at least 1

	Name        string        // Server response header
	IdleTimeout time.Duration // zero disables read/write deadlines
}

type AdminConfig struct {
	Addr string // empty disables the diagnostics listener
}

type TelemetryConfig struct {
	ServiceName string
	Export      bool
}

// Load builds the configuration from the positional arguments (without the
// program name) and the environment.
func Load(args []string) (*Config, error) {
	if len(args) != 3 {
		return nil, ErrUsage
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("config: invalid port %q: %w", args[1], err)
	}

	idleTimeout, err := getEnvAsDurationOrDefault("BLOBHTTP_IDLE_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        args[0],
			Port:        port,
			Threads:     atoi(args[2]),
			Name:        getEnvOrDefault("BLOBHTTP_SERVER_NAME", "blobhttp"),
			IdleTimeout: idleTimeout,
		},
		Admin: AdminConfig{
			Addr: os.Getenv("BLOBHTTP_ADMIN_ADDR"),
		},
		Telemetry: TelemetryConfig{
			ServiceName: getEnvOrDefault("OTEL_SERVICE_NAME", "blobhttp"),
			Export:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		},
	}

	if cfg.Server.Threads < 1 {
		cfg.Server.Threads = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if net.ParseIP(c.Server.Host) == nil {
		return fmt.Errorf("invalid address: %q", c.Server.Host)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.Threads < 1 {
		return fmt.Errorf("invalid thread count: %d", c.Server.Threads)
	}
	if c.Server.IdleTimeout < 0 {
		return fmt.Errorf("invalid idle timeout: %s", c.Server.IdleTimeout)
	}
	if c.Admin.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			return fmt.Errorf("invalid admin address %q: %w", c.Admin.Addr, err)
		}
	}
	return nil
}

// ServerAddress returns the listen address.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// atoi parses the leading digits of s, returning 0 when there are none.
func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		n = n*10 + int(s[i]-'0')
		if n > 1<<16 {
			return n
		}
	}
	return n
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
