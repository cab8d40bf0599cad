package types

import (
	"fmt"
	"time"
)

// StoreBackend selects the Result Store implementation.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreFile     StoreBackend = "file"
	StorePostgres StoreBackend = "postgres"
)

// Config holds runtime configuration combining flags, environment variables,
// and defaults. The core consumes this at construction time; it never owns it.
type Config struct {
	// Sandboxing
	AllowedRoot string // project paths must resolve under this directory

	// Execution
	DefaultImage       string        // container image used when a request names none
	DefaultMaxTokens   int           // token budget applied when a request names none
	DefaultTimeout     time.Duration // overall wall-clock timeout per run
	AllowLocalFallback bool          // permit container mode to fall back to local execution

	// Storage
	StoreBackend     StoreBackend
	ConnectionString string // Postgres connection string (backend=postgres)
	StateDir         string // state directory (backend=file)

	// Output
	Verbose bool // Enable debug logging
}

// ConfigError represents an invalid configuration value
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// DefaultConfig provides default configuration values
var DefaultConfig = Config{
	AllowedRoot:        "/",
	DefaultImage:       "python:3.11",
	DefaultMaxTokens:   4000,
	DefaultTimeout:     5 * time.Minute,
	AllowLocalFallback: false,
	StoreBackend:       StoreFile,
	StateDir:           ".testwarden",
	Verbose:            false,
}

// Validate checks the configuration for values the core cannot work with.
func (c *Config) Validate() error {
	if c.AllowedRoot == "" {
		return &ConfigError{Field: "allowed-root", Message: "must not be empty"}
	}
	if c.DefaultMaxTokens <= 0 {
		return &ConfigError{Field: "max-tokens", Message: "must be positive"}
	}
	if c.DefaultTimeout <= 0 {
		return &ConfigError{Field: "timeout", Message: "must be positive"}
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreFile:
		if c.StateDir == "" {
			return &ConfigError{Field: "state-dir", Message: "required for the file store"}
		}
	case StorePostgres:
		if c.ConnectionString == "" {
			return &ConfigError{Field: "connection", Message: "required for the postgres store"}
		}
	default:
		return &ConfigError{Field: "store", Message: fmt.Sprintf("unknown backend %q", c.StoreBackend)}
	}
	return nil
}
