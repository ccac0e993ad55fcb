package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Provider selects which backend adapter a model uses.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderLocal     Provider = "local"
)

// Model configures one selectable model.
type Model struct {
	Provider Provider `mapstructure:"provider"`
	Name     string   `mapstructure:"name"`

	// Anthropic fields.
	ModelID string `mapstructure:"model_id"`
	APIKey  string `mapstructure:"api_key"`

	// Local (OpenAI-compatible) fields.
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`

	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`

	SupportsImages    bool `mapstructure:"supports_images"`
	SupportsDocuments bool `mapstructure:"supports_documents"`
	SupportsReasoning bool `mapstructure:"supports_reasoning"`
	ReasoningBudget   int  `mapstructure:"reasoning_budget"`

	// ReasoningTags overrides the inline reasoning tag vocabulary for local
	// models, as bare names ("think" means <think>…</think>).
	ReasoningTags []string `mapstructure:"reasoning_tags"`
}

// Documents configures document export.
type Documents struct {
	ExportDir       string `mapstructure:"export_dir"`
	IncludeMetadata bool   `mapstructure:"include_metadata"`
}

type App struct {
	DefaultModel string `mapstructure:"default_model"`
}

type Config struct {
	App       App              `mapstructure:"app"`
	Documents Documents        `mapstructure:"documents"`
	Models    map[string]Model `mapstructure:"models"`
}

// Load reads configuration from path when given, otherwise from
// ~/.config/aichat/config.yaml or ./config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(configDir, "aichat"))
		v.AddConfigPath(".")
	}

	v.SetDefault("documents.export_dir", "~/Documents/ai-exports")
	v.SetDefault("documents.include_metadata", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for key, m := range cfg.Models {
		m.APIKey = expandEnv(m.APIKey)
		if m.APIKey == "" && m.Provider == ProviderAnthropic {
			m.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if m.Name == "" {
			m.Name = key
		}
		if m.MaxTokens == 0 {
			m.MaxTokens = 4096
		}
		// An explicit temperature of 0 is a valid deterministic setting;
		// only an absent key gets the default.
		if !v.IsSet("models." + key + ".temperature") {
			m.Temperature = 0.7
		}
		cfg.Models[key] = m
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: no models defined")
	}
	if c.App.DefaultModel != "" {
		if _, ok := c.Models[c.App.DefaultModel]; !ok {
			return fmt.Errorf("config: default_model %q not found (available: %s)",
				c.App.DefaultModel, strings.Join(c.ModelKeys(), ", "))
		}
	}
	for key, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("config: model %q: %w", key, err)
		}
	}
	return nil
}

// Validate checks provider-specific required fields and value ranges.
func (m Model) Validate() error {
	switch m.Provider {
	case ProviderAnthropic:
		if m.ModelID == "" {
			return fmt.Errorf("anthropic models require model_id")
		}
	case ProviderLocal:
		if m.BaseURL == "" {
			return fmt.Errorf("local models require base_url")
		}
		if m.Model == "" {
			return fmt.Errorf("local models require model")
		}
	default:
		return fmt.Errorf("unknown provider %q (must be %q or %q)", m.Provider, ProviderAnthropic, ProviderLocal)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if m.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// Model resolves a model by key, falling back to the configured default when
// key is empty.
func (c *Config) Model(key string) (Model, error) {
	if key == "" {
		key = c.App.DefaultModel
	}
	if key == "" {
		return Model{}, fmt.Errorf("config: no model selected and no default_model set")
	}
	m, ok := c.Models[key]
	if !ok {
		return Model{}, fmt.Errorf("config: model %q not found (available: %s)", key, strings.Join(c.ModelKeys(), ", "))
	}
	return m, nil
}

// ModelKeys returns the configured model keys in sorted order.
func (c *Config) ModelKeys() []string {
	keys := make([]string, 0, len(c.Models))
	for k := range c.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expandEnv expands ${VAR} or $VAR in a string.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}
