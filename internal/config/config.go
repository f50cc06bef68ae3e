package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"missionline/internal/domain"
)

// Config models missionline.yml.
type Config struct {
	Economy       Economy       `yaml:"economy" json:"economy"`
	Rest          Rest          `yaml:"rest" json:"rest"`
	Preferences   Preferences   `yaml:"preferences" json:"preferences"`
	Generator     Generator     `yaml:"generator" json:"generator"`
	Notifications Notifications `yaml:"notifications" json:"notifications"`
}

type Economy struct {
	InitialBalance       float64 `yaml:"initial_balance" json:"initial_balance"`
	RevealCost           float64 `yaml:"reveal_cost" json:"reveal_cost"`
	EssentialProbability float64 `yaml:"essential_probability" json:"essential_probability"`
	Reward               Band    `yaml:"reward" json:"reward"`
	Penalty              Band    `yaml:"penalty" json:"penalty"`
}

// Band is a half-open [min, max) range of points.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

type Rest struct {
	ShortMinutes int `yaml:"short_minutes" json:"short_minutes"`
	LongMinutes  int `yaml:"long_minutes" json:"long_minutes"`
}

type Preferences struct {
	ActiveTimeStart    string `yaml:"active_time_start" json:"active_time_start"`
	ActiveTimeEnd      string `yaml:"active_time_end" json:"active_time_end"`
	DailyBudgetMinutes int    `yaml:"daily_budget_minutes" json:"daily_budget_minutes"`
}

type Generator struct {
	Provider          string `yaml:"provider" json:"provider"`
	Endpoint          string `yaml:"endpoint" json:"endpoint"`
	Model             string `yaml:"model" json:"model"`
	TimeoutSeconds    int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	RecentWindow      int    `yaml:"recent_window" json:"recent_window"`
}

type Notifications struct {
	Webhooks []Webhook `yaml:"webhooks" json:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Active reports whether the hook should receive deliveries. Missing enabled means on.
func (w Webhook) Active() bool {
	return w.Enabled == nil || *w.Enabled
}

const (
	ProviderHeuristic  = "heuristic"
	ProviderOpenRouter = "openrouter"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ml config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	e := c.Economy
	if e.InitialBalance < 0 {
		return fmt.Errorf("config.economy.initial_balance must not be negative")
	}
	if e.RevealCost < 0 {
		return fmt.Errorf("config.economy.reveal_cost must not be negative")
	}
	if e.EssentialProbability < 0 || e.EssentialProbability > 1 {
		return fmt.Errorf("config.economy.essential_probability must be within [0,1]")
	}
	if err := e.Reward.validate("reward"); err != nil {
		return err
	}
	if err := e.Penalty.validate("penalty"); err != nil {
		return err
	}
	if c.Rest.ShortMinutes <= 0 || c.Rest.LongMinutes <= 0 {
		return fmt.Errorf("config.rest minutes must be greater than zero")
	}
	if c.Rest.ShortMinutes > c.Rest.LongMinutes {
		return fmt.Errorf("config.rest.short_minutes must not exceed long_minutes")
	}
	if _, err := time.Parse("15:04", c.Preferences.ActiveTimeStart); err != nil {
		return fmt.Errorf("config.preferences.active_time_start must be HH:MM")
	}
	if _, err := time.Parse("15:04", c.Preferences.ActiveTimeEnd); err != nil {
		return fmt.Errorf("config.preferences.active_time_end must be HH:MM")
	}
	if c.Preferences.DailyBudgetMinutes < 0 {
		return fmt.Errorf("config.preferences.daily_budget_minutes must not be negative")
	}
	switch c.Generator.Provider {
	case ProviderHeuristic, ProviderOpenRouter:
	default:
		return fmt.Errorf("config.generator.provider must be heuristic or openrouter")
	}
	switch c.Generator.Model {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("config.generator.model must be low, medium or high")
	}
	if c.Generator.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.generator.timeout_seconds must be greater than zero")
	}
	if c.Generator.RecentWindow <= 0 {
		return fmt.Errorf("config.generator.recent_window must be greater than zero")
	}
	for i, hook := range c.Notifications.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.notifications.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

func (b Band) validate(name string) error {
	if b.Min < 0 || b.Max <= b.Min {
		return fmt.Errorf("config.economy.%s must satisfy 0 <= min < max", name)
	}
	return nil
}

// DomainPreferences converts the preferences section for the generator input.
func (c *Config) DomainPreferences() domain.Preferences {
	return domain.Preferences{
		ActiveTimeStart:    c.Preferences.ActiveTimeStart,
		ActiveTimeEnd:      c.Preferences.ActiveTimeEnd,
		DailyBudgetMinutes: c.Preferences.DailyBudgetMinutes,
	}
}

// GeneratorTimeout returns the generator deadline.
func (c *Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "missionline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Missing keys keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `economy:
  initial_balance: 10
  reveal_cost: 2
  essential_probability: 0.3
  reward:
    min: 1
    max: 11
  penalty:
    min: 1
    max: 6

rest:
  short_minutes: 5
  long_minutes: 30

preferences:
  active_time_start: "09:00"
  active_time_end: "18:00"
  daily_budget_minutes: 120

generator:
  provider: heuristic
  endpoint: https://openrouter.ai/api/v1/chat/completions
  model: medium
  timeout_seconds: 30
  requests_per_minute: 20
  recent_window: 5

notifications:
  webhooks: []
`
