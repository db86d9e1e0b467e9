package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	AlgorithmRejection = "rejection"
	AlgorithmSattolo   = "sattolo"

	DefaultPasswordLength   = 8
	DefaultMaxDrawAttempts  = 10000
	DefaultGiftDeadlineDays = 14
	DefaultTokenTTLHours    = 24 * 30
)

// Config models santa.yml.
type Config struct {
	Event struct {
		Name             string `yaml:"name"`
		Locale           string `yaml:"locale"`
		MaxGiftPrice     int    `yaml:"max_gift_price"`
		Currency         string `yaml:"currency"`
		GiftDeadlineDays int    `yaml:"gift_deadline_days"`
	} `yaml:"event"`
	Admin struct {
		Password string `yaml:"password"`
	} `yaml:"admin"`
	Draw struct {
		Algorithm         string `yaml:"algorithm"`
		ForbidMutualPairs bool   `yaml:"forbid_mutual_pairs"`
		MaxAttempts       int    `yaml:"max_attempts"`
	} `yaml:"draw"`
	Passwords struct {
		Length int `yaml:"length"`
	} `yaml:"passwords"`
	Auth struct {
		TokenTTLHours int `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Event.Name) == "" {
		return fmt.Errorf("config.event.name is required")
	}
	if c.Event.Locale != "" {
		if _, err := language.Parse(c.Event.Locale); err != nil {
			return fmt.Errorf("config.event.locale %q is invalid: %w", c.Event.Locale, err)
		}
	}
	if c.Event.MaxGiftPrice < 0 {
		return fmt.Errorf("config.event.max_gift_price must not be negative")
	}
	if c.Event.GiftDeadlineDays < 0 {
		return fmt.Errorf("config.event.gift_deadline_days must not be negative")
	}
	switch c.Draw.Algorithm {
	case "", AlgorithmRejection, AlgorithmSattolo:
	default:
		return fmt.Errorf("config.draw.algorithm must be %q or %q", AlgorithmRejection, AlgorithmSattolo)
	}
	if c.Draw.MaxAttempts < 0 {
		return fmt.Errorf("config.draw.max_attempts must not be negative")
	}
	if n := c.Passwords.Length; n != 0 && (n < 6 || n > 64) {
		return fmt.Errorf("config.passwords.length must be between 6 and 64")
	}
	if c.Auth.TokenTTLHours < 0 {
		return fmt.Errorf("config.auth.token_ttl_hours must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// DrawAlgorithm returns the configured algorithm, defaulting to rejection sampling.
func (c *Config) DrawAlgorithm() string {
	if c.Draw.Algorithm == "" {
		return AlgorithmRejection
	}
	return c.Draw.Algorithm
}

func (c *Config) DrawMaxAttempts() int {
	if c.Draw.MaxAttempts == 0 {
		return DefaultMaxDrawAttempts
	}
	return c.Draw.MaxAttempts
}

func (c *Config) PasswordLength() int {
	if c.Passwords.Length == 0 {
		return DefaultPasswordLength
	}
	return c.Passwords.Length
}

func (c *Config) TokenTTLHours() int {
	if c.Auth.TokenTTLHours == 0 {
		return DefaultTokenTTLHours
	}
	return c.Auth.TokenTTLHours
}

// Locale returns the default locale for user-facing messages.
func (c *Config) Locale() string {
	if c.Event.Locale == "" {
		return "ru"
	}
	return c.Event.Locale
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "santa.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with santa init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default("Secret Santa"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(eventName string) string {
	return fmt.Sprintf(defaultTemplate, quote(eventName))
}

// Default returns the default Config for an event.
func Default(eventName string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(eventName)), &cfg); err != nil {
		panic(fmt.Sprintf("config: default template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func quote(s string) string {
	out, err := yaml.Marshal(s)
	if err != nil {
		return `""`
	}
	return strings.TrimSpace(string(out))
}

const defaultTemplate = `event:
  name: %s
  locale: ru
  max_gift_price: 1000
  currency: RUB
  gift_deadline_days: 14

# Prefer SANTA_ADMIN_PASSWORD over storing the password here.
admin:
  password: ""

draw:
  # rejection: uniform over all derangements; sattolo: one single gift cycle.
  algorithm: rejection
  forbid_mutual_pairs: false
  max_attempts: 10000

passwords:
  length: 8

auth:
  token_ttl_hours: 720
`
