// Package cli wires the command-line surface to the coordinator.
package cli

import (
	"time"

	"github.com/testwarden/testwarden/pkg/types"
)

// Config is an alias for the shared Config type
type Config = types.Config

// ConfigError is an alias for the shared ConfigError type
type ConfigError = types.ConfigError

// DefaultConfig provides default configuration values
var DefaultConfig = types.DefaultConfig

// GlobalFlags carries the flag values shared by every subcommand.
type GlobalFlags struct {
	AllowedRoot string
	Store       string
	Connection  string
	StateDir    string
	Image       string
	MaxTokens   int
	Timeout     time.Duration
	AllowLocal  bool
	Verbose     bool
}

// ApplyFlagsToConfig applies command-line flag values to configuration
func ApplyFlagsToConfig(c *Config, flags GlobalFlags) {
	if flags.AllowedRoot != "" {
		c.AllowedRoot = flags.AllowedRoot
	}
	if flags.Store != "" {
		c.StoreBackend = types.StoreBackend(flags.Store)
	}
	if flags.Connection != "" {
		c.ConnectionString = flags.Connection
	}
	if flags.StateDir != "" {
		c.StateDir = flags.StateDir
	}
	if flags.Image != "" {
		c.DefaultImage = flags.Image
	}
	if flags.MaxTokens != 0 {
		c.DefaultMaxTokens = flags.MaxTokens
	}
	if flags.Timeout != 0 {
		c.DefaultTimeout = flags.Timeout
	}
	if flags.AllowLocal {
		c.AllowLocalFallback = true
	}
	c.Verbose = flags.Verbose
}
