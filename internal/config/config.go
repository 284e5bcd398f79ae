package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// OnErrorPolicy defines how a cycle reacts to a per-entry I/O failure
type OnErrorPolicy string

const (
	// OnErrorContinue records the failure and proceeds with the remaining
	// operations, so a single locked file cannot block the rest of the tree.
	OnErrorContinue OnErrorPolicy = "continue"
	// OnErrorAbort stops the current cycle at the first entry failure.
	// The scheduling loop still attempts the next cycle.
	OnErrorAbort OnErrorPolicy = "abort"
)

// DigestAlgorithm selects the hash used for post-copy verification
type DigestAlgorithm string

const (
	DigestSHA256 DigestAlgorithm = "sha256"
	DigestMD5    DigestAlgorithm = "md5"
)

// Config represents the complete replicad configuration
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Log   LogConfig   `yaml:"log"`
	Serve ServeConfig `yaml:"serve"`
}

// PathsConfig configures the replicated roots
type PathsConfig struct {
	Source  string `yaml:"source"`
	Replica string `yaml:"replica"`
}

// SyncConfig configures cycle behavior
type SyncConfig struct {
	IntervalSeconds int             `yaml:"interval_seconds"`
	OnError         OnErrorPolicy   `yaml:"on_error"`
	Digest          DigestAlgorithm `yaml:"digest"`
	Watch           bool            `yaml:"watch"`
}

// LogConfig configures the append-only audit sink
type LogConfig struct {
	File string `yaml:"file"`
}

// ServeConfig configures the HTTP trigger server
type ServeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	SecretFile string `yaml:"secret_file"`
}

// Default returns a configuration with only defaults applied. Used when the
// daemon is driven purely by command-line flags, without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. The result has defaults
// applied but is not yet validated: callers layer CLI flag overrides on top
// and then call Validate.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.Source = os.ExpandEnv(c.Paths.Source)
	c.Paths.Replica = os.ExpandEnv(c.Paths.Replica)
	c.Log.File = os.ExpandEnv(c.Log.File)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.SecretFile = os.ExpandEnv(c.Serve.SecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = 60
	}
	if c.Sync.OnError == "" {
		c.Sync.OnError = OnErrorContinue
	}
	if c.Sync.Digest == "" {
		c.Sync.Digest = DigestSHA256
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = "127.0.0.1:8484"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.Source == "" {
		return fmt.Errorf("paths.source is required")
	}
	if c.Paths.Replica == "" {
		return fmt.Errorf("paths.replica is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.Source) {
		return fmt.Errorf("paths.source must be an absolute path: %s", c.Paths.Source)
	}
	if !filepath.IsAbs(c.Paths.Replica) {
		return fmt.Errorf("paths.replica must be an absolute path: %s", c.Paths.Replica)
	}
	if c.Paths.Source == c.Paths.Replica {
		return fmt.Errorf("paths.source and paths.replica must differ")
	}

	// Validate sync config
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive: %d", c.Sync.IntervalSeconds)
	}
	switch c.Sync.OnError {
	case OnErrorContinue, OnErrorAbort:
		// valid
	default:
		return fmt.Errorf("invalid sync.on_error policy: %s (must be continue or abort)", c.Sync.OnError)
	}
	switch c.Sync.Digest {
	case DigestSHA256, DigestMD5:
		// valid
	default:
		return fmt.Errorf("invalid sync.digest algorithm: %s (must be sha256 or md5)", c.Sync.Digest)
	}

	// Validate audit sink
	if c.Log.File == "" {
		return fmt.Errorf("log.file is required")
	}
	if !filepath.IsAbs(c.Log.File) {
		return fmt.Errorf("log.file must be an absolute path: %s", c.Log.File)
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
	}

	return nil
}

// Interval returns the cycle cadence as a duration
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}
