package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"chatd/internal/common/fsutil"
	"chatd/internal/sampler"
	"chatd/pkg/types"
)

// RoleConfig holds the token ids wrapped around a message of one role.
type RoleConfig struct {
	Prefix []uint16 `json:"prefix" yaml:"prefix" toml:"prefix"`
	Suffix []uint16 `json:"suffix" yaml:"suffix" toml:"suffix"`
}

// ModelConfig describes one known model. It is immutable once loaded.
type ModelConfig struct {
	Weights       string     `json:"weights" yaml:"weights" toml:"weights" validate:"required"`
	Vocab         string     `json:"vocab" yaml:"vocab" toml:"vocab" validate:"required"`
	RoleSystem    RoleConfig `json:"role_system" yaml:"role_system" toml:"role_system"`
	RoleUser      RoleConfig `json:"role_user" yaml:"role_user" toml:"role_user"`
	RoleAssistant RoleConfig `json:"role_assistant" yaml:"role_assistant" toml:"role_assistant"`
	StopSequence  []uint16   `json:"stop_sequence" yaml:"stop_sequence" toml:"stop_sequence" validate:"min=1"`
}

// Role returns the wrapping for a message role.
func (m ModelConfig) Role(role string) (RoleConfig, bool) {
	switch role {
	case types.RoleSystem:
		return m.RoleSystem, true
	case types.RoleUser:
		return m.RoleUser, true
	case types.RoleAssistant:
		return m.RoleAssistant, true
	}
	return RoleConfig{}, false
}

// Config holds runtime parameters for the service.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr" validate:"required"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level" validate:"omitempty,oneof=trace debug info warn error off"`
	// LogFile, when set, receives a rotated copy of the log stream.
	LogFile string `json:"log_file" yaml:"log_file" toml:"log_file"`
	// Backend names the registered runtime backend used to build models.
	Backend string `json:"backend" yaml:"backend" toml:"backend"`
	// QuantNF4 selects NF4 instead of Int8 for every layer.
	QuantNF4       bool   `json:"quant_nf4" yaml:"quant_nf4" toml:"quant_nf4"`
	DefaultModel   string `json:"default_model" yaml:"default_model" toml:"default_model"`
	MaxTokens      int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" validate:"min=1"`
	MaxTokensLimit int    `json:"max_tokens_limit" yaml:"max_tokens_limit" toml:"max_tokens_limit" validate:"gtefield=MaxTokens"`
	// MaxQueueDepth bounds requests waiting for the session; 0 is unlimited.
	MaxQueueDepth int   `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" validate:"min=0"`
	MaxBodyBytes  int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" validate:"min=0"`
	// RequestTimeoutSeconds bounds the wait for the session; 0 disables it.
	RequestTimeoutSeconds int64    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds" validate:"min=0"`
	CORSEnabled           bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins           []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	Sampler sampler.Settings       `json:"sampler" yaml:"sampler" toml:"sampler"`
	Models  map[string]ModelConfig `json:"models" yaml:"models" toml:"models" validate:"dive"`
}

// Default returns the values used for anything a file leaves out.
func Default() Config {
	return Config{
		Addr:           ":5000",
		LogLevel:       "info",
		Backend:        "unavailable",
		MaxTokens:      256,
		MaxTokensLimit: 4096,
		MaxBodyBytes:   1 << 20,
		CORSOrigins:    []string{"*"},
		Sampler:        sampler.DefaultSettings(),
		Models:         map[string]ModelConfig{},
	}
}

// Load reads a configuration file based on its extension, overlaying it on
// Default. Model paths are resolved against the file's directory.
// Supports: .toml, .yaml/.yml, .json
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.resolvePaths(filepath.Dir(path)); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(base string) error {
	for id, m := range c.Models {
		w, err := fsutil.Resolve(base, m.Weights)
		if err != nil {
			return fmt.Errorf("model %s: %w", id, err)
		}
		v, err := fsutil.Resolve(base, m.Vocab)
		if err != nil {
			return fmt.Errorf("model %s: %w", id, err)
		}
		m.Weights, m.Vocab = w, v
		c.Models[id] = m
	}
	if c.LogFile != "" {
		p, err := fsutil.Resolve(base, c.LogFile)
		if err != nil {
			return err
		}
		c.LogFile = p
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.Sampler.Validate(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	for id, m := range c.Models {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("model with empty id")
		}
		if len(m.RoleAssistant.Prefix) == 0 {
			return fmt.Errorf("model %s: role_assistant.prefix must not be empty", id)
		}
	}
	if c.DefaultModel != "" {
		if _, ok := c.Models[c.DefaultModel]; !ok {
			return fmt.Errorf("default_model %q is not a configured model", c.DefaultModel)
		}
	}
	return nil
}
