// Package config loads the belay configuration from YAML with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for belay.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig controls the agent loop.
type AgentConfig struct {
	ID           string `yaml:"id"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxSteps     int    `yaml:"max_steps"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// StorageConfig selects the persistence backend. Driver is "memory" or
// "sqlite"; Path is the SQLite database file.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type SchedulerConfig struct {
	// Enabled toggles background task firing. Defaults to true when omitted.
	Enabled      *bool         `yaml:"enabled"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// On reports whether the scheduler should run.
func (c SchedulerConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file, expanding ${ENV} references
// before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and API keys
// taken from the environment.
func Default() *Config {
	cfg := &Config{
		LLM: LLMConfig{
			Providers: map[string]LLMProviderConfig{
				"anthropic": {APIKey: os.Getenv("ANTHROPIC_API_KEY")},
				"openai":    {APIKey: os.Getenv("OPENAI_API_KEY")},
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = "belay"
	}
	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 10
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite driver")
	}
	switch c.LLM.DefaultProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.DefaultProvider)
	}
	if c.Agent.MaxSteps < 0 {
		return fmt.Errorf("agent.max_steps must not be negative")
	}
	return nil
}

// Provider returns the active provider's configuration.
func (c *Config) Provider() LLMProviderConfig {
	return c.LLM.Providers[c.LLM.DefaultProvider]
}

const defaultSystemPrompt = `You are a personal climbing coach. You help climbers train smarter:
assessing their current bouldering and sport grades, tracking weaknesses and
injuries, and building personalized training plans toward their goals.

Save what you learn about the climber with the set_climber_profile tool so
later sessions can pick up where you left off. If the user asks to schedule
training reminders or check-ins, use the scheduling tools. Keep advice
practical and specific to the climber's profile.`
