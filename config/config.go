// Package config loads the runtime configuration: model endpoint, loop
// limits, history trimming and logging, from a YAML file with environment
// overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "90s" or
// "2m" strings.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ModelConfig selects and tunes the model backend.
type ModelConfig struct {
	// Provider is "openai", "anthropic" or "mock".
	Provider string `yaml:"provider"`
	// Name is the provider-side model identifier.
	Name string `yaml:"name"`
	// BaseURL overrides the provider endpoint, for OpenAI-compatible
	// gateways.
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Timeout bounds a single model invocation.
	Timeout Duration `yaml:"timeout"`
}

// LoopConfig tunes the agent loop controller.
type LoopConfig struct {
	// MaxToolRounds bounds model invocations per user message.
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// HandlerTimeout bounds a single tool handler execution.
	HandlerTimeout Duration `yaml:"handler_timeout"`
}

// HistoryConfig controls session growth and the trimmed view sent to the
// model.
type HistoryConfig struct {
	// MaxTurns is the hard session capacity. 0 means unbounded.
	MaxTurns int `yaml:"max_turns"`
	// KeepHead turns are always retained at the front of the model view.
	KeepHead int `yaml:"keep_head"`
	// Window is the number of trailing turns kept in the model view.
	Window int `yaml:"window"`
}

// LoggingConfig configures the slog backend.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root runtime configuration.
type Config struct {
	// SchemaPath points at the JSON function-schema document.
	SchemaPath string `yaml:"schema_path"`
	// SystemPromptPath points at the instructions file. Empty means no
	// instructions.
	SystemPromptPath string `yaml:"system_prompt_path"`

	Model   ModelConfig   `yaml:"model"`
	Loop    LoopConfig    `yaml:"loop"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Provider:    "openai",
			Temperature: 0.3,
			MaxTokens:   2000,
			Timeout:     Duration(60 * time.Second),
		},
		Loop: LoopConfig{
			MaxToolRounds:  15,
			HandlerTimeout: Duration(30 * time.Second),
		},
		History: HistoryConfig{
			MaxTurns: 200,
			KeepHead: 2,
			Window:   40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates configuration from a YAML file. Values absent
// from the file keep their defaults; MGP_API_KEY in the environment
// overrides model.api_key.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data)
}

// Decode parses a raw YAML payload into a Config.
func Decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if key := os.Getenv("MGP_API_KEY"); key != "" {
		cfg.Model.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces minimal structural guarantees.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch c.Model.Provider {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Loop.MaxToolRounds < 0 {
		return fmt.Errorf("max_tool_rounds cannot be negative: %d", c.Loop.MaxToolRounds)
	}
	if c.History.MaxTurns < 0 {
		return fmt.Errorf("history max_turns cannot be negative: %d", c.History.MaxTurns)
	}
	if c.History.Window < 0 || c.History.KeepHead < 0 {
		return errors.New("history keep_head and window cannot be negative")
	}
	return nil
}
