package sitegen

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends selectable in configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// Provider adapter types selectable in configuration.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Failover orderings selectable in configuration.
const (
	PolicyOrdered      = "ordered"
	PolicyHealthyFirst = "healthy_first"
)

// Config is the top-level service configuration.
type Config struct {
	Listen      string           `yaml:"listen"`
	JWTSecret   string           `yaml:"jwt_secret"`
	Quota       QuotaConfig      `yaml:"quota"`
	Projects    ProjectsConfig   `yaml:"projects"`
	DatabaseURL string           `yaml:"database_url"`
	RedisAddr   string           `yaml:"redis_addr"`
	SQLitePath  string           `yaml:"sqlite_path"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Log         LogConfig        `yaml:"log"`
	Generation  GenerationConfig `yaml:"generation"`
	Providers   []ProviderConfig `yaml:"providers"`
}

// QuotaConfig configures the ledger and its store.
type QuotaConfig struct {
	DailyLimit  int64  `yaml:"daily_limit"`
	Timezone    string `yaml:"timezone"`
	Backend     string `yaml:"backend"`
	TablePrefix string `yaml:"table_prefix"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// ProjectsConfig selects the project store.
type ProjectsConfig struct {
	Backend string `yaml:"backend"`
}

// RateLimitConfig configures per-client request throttling on the API.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LogConfig configures logging. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// GenerationConfig holds the parameters sent with every provider call.
type GenerationConfig struct {
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   *int          `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Policy      string        `yaml:"policy"`
}

// ProviderConfig configures one entry of the provider failover list.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("sitegen: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes, applies defaults and validates.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("sitegen: parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = DefaultDailyLimit
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "UTC"
	}
	if c.Quota.Backend == "" {
		c.Quota.Backend = BackendMemory
	}
	if c.Quota.TablePrefix == "" {
		c.Quota.TablePrefix = "sitegen_"
	}
	if c.Quota.KeyPrefix == "" {
		c.Quota.KeyPrefix = "sitegen:quota:"
	}
	if c.Projects.Backend == "" {
		c.Projects.Backend = BackendMemory
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "sitegen.db"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 2 * time.Minute
	}
	if c.Generation.Policy == "" {
		c.Generation.Policy = PolicyOrdered
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Type == "" {
			switch strings.ToLower(p.Name) {
			case ProviderGemini, ProviderMock:
				p.Type = strings.ToLower(p.Name)
			default:
				p.Type = ProviderOpenAI
			}
		}
	}
}

// Location returns the quota reference timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sitegen: config: quota.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("sitegen: config: jwt_secret is required")
	}
	if c.Quota.DailyLimit < 0 {
		return fmt.Errorf("sitegen: config: quota.daily_limit must be positive, got %d", c.Quota.DailyLimit)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Quota.Backend {
	case BackendMemory, BackendRedis, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("sitegen: config: database_url is required for the postgres quota backend")
		}
	default:
		return fmt.Errorf("sitegen: config: invalid quota.backend %q", c.Quota.Backend)
	}

	switch c.Projects.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("sitegen: config: database_url is required for the postgres project backend")
		}
	default:
		return fmt.Errorf("sitegen: config: invalid projects.backend %q", c.Projects.Backend)
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("sitegen: config: rate_limit values must not be negative")
	}

	switch c.Generation.Policy {
	case PolicyOrdered, PolicyHealthyFirst:
	default:
		return fmt.Errorf("sitegen: config: invalid generation.policy %q", c.Generation.Policy)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("sitegen: config: at least one provider is required")
	}
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("sitegen: config: providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("sitegen: config: duplicate provider name %q", p.Name)
		}
		names[p.Name] = true

		if p.Model == "" {
			return fmt.Errorf("sitegen: config: providers[%d] (%s): model is required", i, p.Name)
		}
		switch p.Type {
		case ProviderGemini, ProviderMock:
		case ProviderOpenAI:
			if p.BaseURL == "" {
				return fmt.Errorf("sitegen: config: providers[%d] (%s): base_url is required", i, p.Name)
			}
		default:
			return fmt.Errorf("sitegen: config: providers[%d] (%s): invalid type %q", i, p.Name, p.Type)
		}
	}

	return nil
}
