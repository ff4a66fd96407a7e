// Package config loads the engine's recognized options from YAML into a
// fixed-schema document rather than an arbitrary options chain, since the
// configuration surface here is a known, bounded set of fields.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/qa-orchestrator/internal/cache"
	"github.com/dshills/qa-orchestrator/internal/domain"
)

// Config is the engine's full recognized configuration surface.
type Config struct {
	MaxRetries            int           `yaml:"max_retries"`
	MaxWorkersPerPlan     int           `yaml:"max_workers_per_plan"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	TotalRunTimeout       time.Duration `yaml:"total_run_timeout"`
	PerStepDefaultTimeout time.Duration `yaml:"per_step_default_timeout"`

	Cache CacheConfig `yaml:"cache"`

	Retry RetryConfig `yaml:"retry"`

	LLM LLMConfig `yaml:"llm"`

	IntentMinConfidenceThreshold  float64 `yaml:"intent_min_confidence_threshold"`
	EvaluatorMinQualityThreshold  float64 `yaml:"evaluator_min_quality_threshold"`
	EvaluatorLowConfidenceThresh  float64 `yaml:"evaluator_low_confidence_threshold"`

	MaxQueryLength  int    `yaml:"max_query_length"`
	Language        string `yaml:"language"`
	DebugMode       bool   `yaml:"debug_mode"`
	CheckpointEnabled bool `yaml:"checkpoint_enabled"`

	StateStore StateStoreConfig `yaml:"state_store"`
}

// CacheConfig is the result-cache configuration block.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	TTLSeconds     int           `yaml:"ttl_seconds"`
	MaxEntries     int           `yaml:"max_entries"`
	MaxMemoryBytes int64         `yaml:"max_memory_bytes"`
	Strategy       string        `yaml:"strategy"`
	RedisAddr      string        `yaml:"redis_addr"`
}

// ToStrategyConfig converts the YAML block into cache.Config.
func (c CacheConfig) ToStrategyConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.TTLSeconds > 0 {
		cfg.TTL = time.Duration(c.TTLSeconds) * time.Second
	}
	if c.MaxEntries > 0 {
		cfg.MaxEntries = c.MaxEntries
	}
	if c.Strategy != "" {
		cfg.Strategy = cache.Kind(c.Strategy)
	}
	return cfg
}

// RetryConfig is the retry/backoff configuration block.
type RetryConfig struct {
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig mirrors retry.backoff's kind/initial_delay/max_delay.
type BackoffConfig struct {
	Kind             string  `yaml:"kind"`
	InitialDelaySecs float64 `yaml:"initial_delay"`
	MaxDelaySecs     float64 `yaml:"max_delay"`
}

// ToRetryPolicy converts the YAML block into domain.RetryPolicy.
func (b BackoffConfig) ToRetryPolicy(maxRetries int) domain.RetryPolicy {
	kind := domain.BackoffKind(b.Kind)
	switch kind {
	case domain.BackoffConstant, domain.BackoffLinear, domain.BackoffExponential:
	default:
		kind = domain.BackoffExponential
	}
	initial := time.Duration(b.InitialDelaySecs * float64(time.Second))
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxDelay := time.Duration(b.MaxDelaySecs * float64(time.Second))
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return domain.RetryPolicy{MaxRetries: maxRetries, Backoff: kind, InitialDelay: initial, MaxDelay: maxDelay}
}

// LLMConfig is the language-model provider configuration block.
type LLMConfig struct {
	Provider          string            `yaml:"provider"`
	ModelPerPurpose   map[string]string `yaml:"model_per_purpose_map"`
	Temperature       float64           `yaml:"temperature"`
	MaxTokens         int               `yaml:"max_tokens"`
}

// StateStoreConfig selects and configures a persistence backend.
type StateStoreConfig struct {
	Backend  string `yaml:"backend"` // memory | sqlite | mysql
	DSN      string `yaml:"dsn"`
}

// Default returns the engine's documented built-in defaults.
func Default() Config {
	return Config{
		MaxRetries:            2,
		MaxWorkersPerPlan:     3,
		MaxConcurrent:         3,
		TotalRunTimeout:       60 * time.Second,
		PerStepDefaultTimeout: 20 * time.Second,
		Cache:                 CacheConfig{Enabled: true, TTLSeconds: 1800, MaxEntries: 1000, Strategy: "lru"},
		Retry: RetryConfig{Backoff: BackoffConfig{
			Kind: "exponential", InitialDelaySecs: 0.5, MaxDelaySecs: 10,
		}},
		LLM:                          LLMConfig{Temperature: 0.3, MaxTokens: 2048},
		IntentMinConfidenceThreshold: 0.15,
		EvaluatorMinQualityThreshold: 0.6,
		EvaluatorLowConfidenceThresh: 0.4,
		MaxQueryLength:               2000,
		Language:                     "ko",
		CheckpointEnabled:            true,
		StateStore:                   StateStoreConfig{Backend: "memory"},
	}
}

// Load reads and parses a YAML configuration file at path, applying
// Default()'s values for anything the file doesn't set.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
