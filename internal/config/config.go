package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

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

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// HistoryLen caps the per-channel announcement history list.
	HistoryLen int64 `yaml:"history_len"`
}

type PipelineConfig struct {
	// MaxRetries is a pointer so an explicit 0 disables retries; unset means 3.
	MaxRetries    *int          `yaml:"max_retries"`
	RetryStrategy string        `yaml:"retry_strategy"` // fixed|exponential
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMax      time.Duration `yaml:"retry_max"`
	// MaxProcessing is how long a job may stay in processing without a write
	// before the reconciler takes it back.
	MaxProcessing time.Duration `yaml:"max_processing"`
	// OrphanAfter is how long a queued job may sit untouched before it is
	// republished.
	OrphanAfter   time.Duration `yaml:"orphan_after"`
	ReconcileCron string        `yaml:"reconcile_cron"`
	DequeueWait   time.Duration `yaml:"dequeue_wait"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	LowConfidence float64       `yaml:"low_confidence"`
	// ShutdownGrace is how long in-flight attempts may finish after a stop signal.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type QueueConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

type AIConfig struct {
	Provider        string `yaml:"provider"` // openai|gemini|noop
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	Model           string `yaml:"model"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent extraction calls
	ResultPrefix    string `yaml:"result_prefix"`
	// RateLimit caps provider calls per RateWindow across all processes (0 = off).
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type Config struct {
	Log      LogConfig              `yaml:"log"`
	HTTP     HTTPConfig             `yaml:"http"`
	Database DatabaseConfig         `yaml:"database"`
	Redis    RedisConfig            `yaml:"redis"`
	Pipeline PipelineConfig         `yaml:"pipeline"`
	Queues   map[string]QueueConfig `yaml:"queues"` // keyed by job kind
	AI       AIConfig               `yaml:"ai"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Queue returns the settings for a job kind with defaults filled in.
func (c *Config) Queue(kind string) QueueConfig {
	q := c.Queues[kind]
	if q.Workers <= 0 {
		q.Workers = 2
	}
	if q.Timeout <= 0 {
		q.Timeout = 5 * time.Minute
	}
	return q
}

// LoadConfig parses the -config and -dev flags and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode (in-memory store and broker)")
	flag.Parse()
	return Load(configPath, dev)
}

// Load reads path, applies defaults and environment overrides, and validates.
// In dev mode a missing file is not an error.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case dev && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.AI.OpenAIKey == "" {
		cfg.AI.OpenAIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.AI.GeminiKey == "" {
		cfg.AI.GeminiKey = v
	}

	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.HistoryLen <= 0 {
		cfg.Redis.HistoryLen = 100
	}

	p := &cfg.Pipeline
	if p.MaxRetries == nil {
		n := 3
		p.MaxRetries = &n
	}
	if p.RetryStrategy == "" {
		p.RetryStrategy = "fixed"
	}
	if p.RetryBase <= 0 {
		p.RetryBase = 60 * time.Second
	}
	if p.RetryMax <= 0 {
		p.RetryMax = 30 * time.Minute
	}
	if p.MaxProcessing <= 0 {
		p.MaxProcessing = 30 * time.Minute
	}
	if p.OrphanAfter <= 0 {
		p.OrphanAfter = 10 * time.Minute
	}
	if p.ReconcileCron == "" {
		p.ReconcileCron = "@every 1m"
	}
	if p.DequeueWait <= 0 {
		p.DequeueWait = 2 * time.Second
	}
	if p.StoreTimeout <= 0 {
		p.StoreTimeout = 10 * time.Second
	}
	if p.LowConfidence <= 0 {
		p.LowConfidence = 0.7
	}
	if p.ShutdownGrace <= 0 {
		p.ShutdownGrace = 30 * time.Second
	}

	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "noop"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 4
	}
	if cfg.AI.Model == "" {
		switch strings.ToLower(cfg.AI.Provider) {
		case "gemini":
			cfg.AI.Model = "gemini-2.0-flash"
		default:
			cfg.AI.Model = "gpt-4o-mini"
		}
	}
	if cfg.AI.ResultPrefix == "" {
		cfg.AI.ResultPrefix = "ocr_result:"
	}
	if cfg.AI.RateLimit > 0 && cfg.AI.RateWindow <= 0 {
		cfg.AI.RateWindow = time.Minute
	}
}

func (c *Config) validate() error {
	if *c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	if c.Pipeline.RetryMax < c.Pipeline.RetryBase {
		return errors.New("pipeline.retry_max must be >= pipeline.retry_base")
	}
	if c.Pipeline.MaxProcessing <= c.Pipeline.DequeueWait {
		return errors.New("pipeline.max_processing must exceed pipeline.dequeue_wait")
	}
	for kind, q := range c.Queues {
		if q.Timeout > 0 && q.Timeout >= c.Pipeline.MaxProcessing {
			return fmt.Errorf("queues.%s.timeout must be below pipeline.max_processing", kind)
		}
	}
	if c.AI.RateLimit > 0 && c.AI.RateWindow < time.Second {
		return errors.New("ai.rate_window must be at least 1s")
	}
	switch strings.ToLower(c.AI.Provider) {
	case "noop":
	case "openai":
		if c.AI.OpenAIKey == "" {
			return errors.New("ai.openai_key is required for provider openai")
		}
	case "gemini":
		if c.AI.GeminiKey == "" {
			return errors.New("ai.gemini_key is required for provider gemini")
		}
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	if c.Runtime.Dev {
		return nil
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	return nil
}
