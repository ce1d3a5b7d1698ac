// Package config holds WildfireGPT configuration: the application config
// (LLM backend, storage, policy tuning, logging) and the per-stage
// configuration contract (instructions, tool declarations, completion tool).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all WildfireGPT configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM backend configuration
	LLM LLMConfig `yaml:"llm"`

	// Decision policy tuning
	Policy PolicyConfig `yaml:"policy"`

	// Transcript persistence
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// StageDir, when set, overrides the embedded stage configuration with
	// YAML files on disk (profile.yml, plan.yml, analyst.yml).
	StageDir string `yaml:"stage_dir"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// PolicyConfig configures the decision policy retry discipline.
type PolicyConfig struct {
	// MaxAttempts bounds each constrained-choice retry loop.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseTemperature is used on the first classification attempt.
	BaseTemperature float64 `yaml:"base_temperature"`

	// TemperatureStep is added per retry.
	TemperatureStep float64 `yaml:"temperature_step"`
}

// StorageConfig configures transcript and feedback persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "WildfireGPT",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "300s",
		},

		Policy: PolicyConfig{
			MaxAttempts:     3,
			BaseTemperature: 0.7,
			TemperatureStep: 0.1,
		},

		Storage: StorageConfig{
			DatabasePath: "data/wildfiregpt.db",
		},

		Logging: LoggingConfig{
			Level: "info",
			File:  "wildfiregpt.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("WILDFIREGPT_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("WILDFIREGPT_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if path := os.Getenv("WILDFIREGPT_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if dir := os.Getenv("WILDFIREGPT_STAGE_DIR"); dir != "" {
		c.StageDir = dir
	}
}
