// pkg/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can use "500ms"/"5s"
// notation.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config holds the engine's tunables.
type Config struct {
	// Dir is the directory the engine stores its log and checkpoint
	// in. Must exist or be creatable.
	Dir string `toml:"dir"`

	// LogLevel is a logrus level name: debug, info, warn, error.
	LogLevel string `toml:"log-level"`

	// LockWaitTimeout bounds how long a transaction waits for a row
	// lock before ErrLockTimeout.
	LockWaitTimeout Duration `toml:"lock-wait-timeout"`

	// CheckpointEvery triggers a checkpoint once the log holds at
	// least this many records. 0 disables automatic checkpoints.
	CheckpointEvery uint64 `toml:"checkpoint-every"`

	// GCInterval is how often old versions are pruned in the
	// background. 0 disables background garbage collection.
	GCInterval Duration `toml:"gc-interval"`
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Dir:             "strata-data",
		LogLevel:        "info",
		LockWaitTimeout: Duration{5 * time.Second},
		CheckpointEvery: 10000,
		GCInterval:      Duration{time.Minute},
	}
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("dir must not be empty")
	}
	if c.LockWaitTimeout.Duration <= 0 {
		return fmt.Errorf("lock-wait-timeout must be positive, got %v", c.LockWaitTimeout.Duration)
	}
	if c.GCInterval.Duration < 0 {
		return fmt.Errorf("gc-interval must not be negative, got %v", c.GCInterval.Duration)
	}
	return nil
}

// FromTOMLFile loads a configuration from a TOML file, applying
// defaults for fields the file leaves out.
func FromTOMLFile(path string) (*Config, error) {
	c := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
