// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	GeminiKey       string            `yaml:"gemini_key"`
	GeminiURL       string            `yaml:"gemini_url"`
	OpenAIKey       string            `yaml:"openai_key"`
	OpenAIBaseURL   string            `yaml:"openai_base_url"`
	DefaultProvider string            `yaml:"default_provider"` // gemini | openai
	DefaultModel    string            `yaml:"default_model"`
	Temperature     *float64          `yaml:"temperature"`
	ModelProviders  map[string]string `yaml:"model_providers"` // model -> provider
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	Noop            bool              `yaml:"noop"`       // answer locally, never call a provider
	NoopDelay       time.Duration     `yaml:"noop_delay"` // simulated latency of the noop provider
}

// ModelLimits holds the raw limit strings for one model, in the formats the
// provider dashboards print them: "15", "2 / 5", "420.13K / 250K", "Unlimited".
type ModelLimits struct {
	RPM string `yaml:"rpm"`
	TPM string `yaml:"tpm"`
	RPD string `yaml:"rpd"`
}

type GovernorConfig struct {
	MaxWait      time.Duration `yaml:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SafetyMargin time.Duration `yaml:"safety_margin"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type PackagingConfig struct {
	MaxFiles int   `yaml:"max_files"`
	MaxBytes int64 `yaml:"max_bytes"`
}

type JobConfig struct {
	Root           string   `yaml:"root"`
	RepositoryName string   `yaml:"repository_name"`
	TemplateID     string   `yaml:"template_id"`
	TemplateName   string   `yaml:"template_name"`
	TemplateFile   string   `yaml:"template_file"`
	Template       string   `yaml:"template"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
	OutputFile     string   `yaml:"output_file"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"` // empty disables the control API
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Config struct {
	Log       LogConfig              `yaml:"log"`
	Database  DatabaseConfig         `yaml:"database"`
	Redis     RedisConfig            `yaml:"redis"`
	AI        AIConfig               `yaml:"ai"`
	Limits    map[string]ModelLimits `yaml:"limits"`
	Governor  GovernorConfig         `yaml:"governor"`
	Retry     RetryConfig            `yaml:"retry"`
	Packaging PackagingConfig        `yaml:"packaging"`
	Job       JobConfig              `yaml:"job"`
	HTTP      HTTPConfig             `yaml:"http"`

	Runtime RuntimeConfig `yaml:"-"`
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
}

// LoadConfig reads the YAML file at path, fills secrets from the environment
// (after loading the first .env found) and applies defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw YAML, overlays environment secrets, applies defaults and
// validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if *dst == "" {
			*dst = strings.TrimSpace(os.Getenv(key))
		}
	}
	overlay(&c.AI.GeminiKey, "GEMINI_API_KEY")
	overlay(&c.AI.OpenAIKey, "OPENAI_API_KEY")
	overlay(&c.Database.URL, "DATABASE_URL")
	overlay(&c.Redis.URL, "REDIS_URL")
	overlay(&c.Redis.Password, "REDIS_PASSWORD")
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 4
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.AI.DefaultModel == "" {
		c.AI.DefaultModel = "gemini-2.5-flash"
	}
	if c.AI.DefaultProvider == "" {
		c.AI.DefaultProvider = "gemini"
	}
	if c.Governor.MaxWait <= 0 {
		c.Governor.MaxWait = time.Minute
	}
	if c.Governor.PollInterval <= 0 {
		c.Governor.PollInterval = time.Second
	}
	if c.Governor.SafetyMargin <= 0 {
		c.Governor.SafetyMargin = time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Packaging.MaxFiles <= 0 {
		c.Packaging.MaxFiles = 10
	}
	if c.Packaging.MaxBytes <= 0 {
		c.Packaging.MaxBytes = 512 * 1024
	}
	if c.AI.MaxOutputTokens <= 0 {
		c.AI.MaxOutputTokens = 8192
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 5 * time.Minute
	}
	if c.Job.Root == "" {
		c.Job.Root = "."
	}
	if c.Job.RepositoryName == "" {
		c.Job.RepositoryName = "Local repository"
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required (or DATABASE_URL)")
	}
	if !c.AI.Noop && c.AI.GeminiKey == "" && c.AI.OpenAIKey == "" {
		return errors.New("no AI provider configured: set ai.gemini_key or ai.openai_key")
	}
	if t := c.AI.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("ai.temperature %.2f out of range [0, 2]", *t)
	}
	if c.Job.Template == "" && c.Job.TemplateFile == "" {
		return errors.New("job.template or job.template_file is required")
	}
	return nil
}
