// Package config loads session configuration from YAML: speaker-selection
// limits, delegation thresholds, backend timeouts, snapshot storage and the
// workflow stage set.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry human-readable values like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Router      RouterConfig      `yaml:"router"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Store       StoreConfig       `yaml:"store"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SessionConfig identifies the session.
type SessionConfig struct {
	ID string `yaml:"id"`
}

// CoordinatorConfig tunes group-chat turn taking.
type CoordinatorConfig struct {
	// MaxAgentTurns bounds consecutive agent turns between human turns.
	MaxAgentTurns int `yaml:"max_agent_turns"`
}

// RouterConfig tunes capability-based delegation.
type RouterConfig struct {
	// Threshold is the minimum capability score required for delegation.
	Threshold float64 `yaml:"threshold"`
	// FanOut is the number of top-ranked agents invoked per request.
	FanOut int `yaml:"fan_out"`
	// MaxConcurrent bounds concurrently running delegates.
	MaxConcurrent int64 `yaml:"max_concurrent"`
	// Merge selects the fan-out merge policy: "primary" or "concat".
	Merge string `yaml:"merge"`
}

// BridgeConfig tunes backend operation invocation.
type BridgeConfig struct {
	// DefaultTimeout bounds each backend invocation.
	DefaultTimeout Duration `yaml:"default_timeout"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite" or "redis".
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
	// Addr is the host:port for the redis backend.
	Addr string `yaml:"addr"`
	// KeyPrefix namespaces redis snapshot keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// WorkflowConfig declares the ordered stage set.
type WorkflowConfig struct {
	Stages []string `yaml:"stages"`
	// Reentrant lists stages that may be re-entered after completion.
	Reentrant []string `yaml:"reentrant"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load parses the YAML configuration at path, fills defaults and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Coordinator.MaxAgentTurns == 0 {
		c.Coordinator.MaxAgentTurns = 8
	}
	if c.Router.Threshold == 0 {
		c.Router.Threshold = 0.05
	}
	if c.Router.FanOut == 0 {
		c.Router.FanOut = 1
	}
	if c.Router.MaxConcurrent == 0 {
		c.Router.MaxConcurrent = 4
	}
	if c.Router.Merge == "" {
		c.Router.Merge = "primary"
	}
	if c.Bridge.DefaultTimeout == 0 {
		c.Bridge.DefaultTimeout = Duration(30 * time.Second)
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations that cannot be wired into a session.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store: sqlite backend needs a path")
		}
	case "redis":
		if c.Store.Addr == "" {
			return errors.New("store: redis backend needs an addr")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	switch c.Router.Merge {
	case "primary", "concat":
	default:
		return fmt.Errorf("router: unknown merge policy %q", c.Router.Merge)
	}

	if c.Router.FanOut < 1 {
		return errors.New("router: fan_out must be at least 1")
	}
	if len(c.Workflow.Stages) == 1 {
		return errors.New("workflow: a stage set needs at least two stages")
	}

	stages := map[string]bool{}
	for _, s := range c.Workflow.Stages {
		stages[s] = true
	}
	for _, s := range c.Workflow.Reentrant {
		if !stages[s] {
			return fmt.Errorf("workflow: reentrant stage %q is not in the stage set", s)
		}
	}
	return nil
}
