// Package config loads application configuration from file and environment,
// with sane defaults for local use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Store configuration (knowledge graph backend)
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// NLP configuration
	NLP NLPConfig `mapstructure:"nlp" yaml:"nlp"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`

	// Cache configuration (LLM response cache)
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Search configuration
	Search SearchConfig `mapstructure:"search" yaml:"search"`

	// Retry configuration for model calls
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	Mode string `mapstructure:"mode" yaml:"mode"` // gin mode: debug, release, test
}

// StoreConfig holds knowledge store configuration
type StoreConfig struct {
	// Backend selects the knowledge store: parquet, neo4j.
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Dir is the directory holding the indexed parquet tables.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Neo4j connection settings.
	URI      string `mapstructure:"uri" yaml:"uri"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// NLPConfig holds language model configuration
type NLPConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // openai or an openai-compatible endpoint
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"` // openai, embedeverything
	Model      string `mapstructure:"model" yaml:"model"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
}

// CacheConfig holds LLM response cache configuration
type CacheConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // none, memory, badger
	Path    string `mapstructure:"path" yaml:"path"`
}

// SearchConfig holds the budgets and knobs of the query strategies
type SearchConfig struct {
	// Shared context-building settings.
	MaxTokens              int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopKEntities           int     `mapstructure:"top_k_entities" yaml:"top_k_entities"`
	TopKTextUnits          int     `mapstructure:"top_k_text_units" yaml:"top_k_text_units"`
	EntityProportion       float64 `mapstructure:"entity_proportion" yaml:"entity_proportion"`
	RelationshipProportion float64 `mapstructure:"relationship_proportion" yaml:"relationship_proportion"`
	TextUnitProportion     float64 `mapstructure:"text_unit_proportion" yaml:"text_unit_proportion"`
	CovariateProportion    float64 `mapstructure:"covariate_proportion" yaml:"covariate_proportion"`
	CommunityLevel         int     `mapstructure:"community_level" yaml:"community_level"`
	IncludeHistory         bool    `mapstructure:"include_history" yaml:"include_history"`
	HistoryMaxTokens       int     `mapstructure:"history_max_tokens" yaml:"history_max_tokens"`

	// Global search settings.
	BatchMaxTokens        int  `mapstructure:"batch_max_tokens" yaml:"batch_max_tokens"`
	MaxConcurrency        int  `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	ReduceMaxTokens       int  `mapstructure:"reduce_max_tokens" yaml:"reduce_max_tokens"`
	AllowGeneralKnowledge bool `mapstructure:"allow_general_knowledge" yaml:"allow_general_knowledge"`
	RateRelevancy         bool `mapstructure:"rate_relevancy" yaml:"rate_relevancy"`
	MinRelevancyScore     int  `mapstructure:"min_relevancy_score" yaml:"min_relevancy_score"`

	// Drift search settings.
	DriftMaxIterations int `mapstructure:"drift_max_iterations" yaml:"drift_max_iterations"`
	DriftMaxQueueDepth int `mapstructure:"drift_max_queue_depth" yaml:"drift_max_queue_depth"`
	DriftFanOut        int `mapstructure:"drift_fan_out" yaml:"drift_fan_out"`
}

// RetryConfig holds retry configuration for model calls
type RetryConfig struct {
	MaxRetries     int `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelayMs int `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMs     int `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests" yaml:"max_requests"`
	Interval         int     `mapstructure:"interval" yaml:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout" yaml:"timeout"`   // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio" yaml:"ready_to_trip_ratio"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ParquetPath string `mapstructure:"parquet_path" yaml:"parquet_path"`
}

// Load loads configuration from file and environment variables. The path may
// be empty, in which case only defaults, any interrogato.yaml in the working
// directory, and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("interrogato")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("INTERROGATO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("store.backend", "parquet")
	v.SetDefault("store.dir", "./output")
	v.SetDefault("store.database", "neo4j")

	v.SetDefault("nlp.provider", "openai")
	v.SetDefault("nlp.model", "gpt-4o-mini")
	v.SetDefault("nlp.temperature", 0.0)
	v.SetDefault("nlp.max_tokens", 2000)

	v.SetDefault("embedding.provider", "embedeverything")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")

	v.SetDefault("cache.backend", "memory")

	v.SetDefault("search.max_tokens", 8000)
	v.SetDefault("search.top_k_entities", 10)
	v.SetDefault("search.top_k_text_units", 10)
	v.SetDefault("search.entity_proportion", 0.3)
	v.SetDefault("search.relationship_proportion", 0.2)
	v.SetDefault("search.text_unit_proportion", 0.4)
	v.SetDefault("search.covariate_proportion", 0.1)
	v.SetDefault("search.community_level", 1)
	v.SetDefault("search.include_history", true)
	v.SetDefault("search.history_max_tokens", 2000)
	v.SetDefault("search.batch_max_tokens", 8000)
	v.SetDefault("search.max_concurrency", 8)
	v.SetDefault("search.reduce_max_tokens", 2000)
	v.SetDefault("search.min_relevancy_score", 1)
	v.SetDefault("search.drift_max_iterations", 3)
	v.SetDefault("search.drift_max_queue_depth", 20)
	v.SetDefault("search.drift_fan_out", 1)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 10000)

	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", 60)
	v.SetDefault("circuit_breaker.timeout", 30)
	v.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	v.SetDefault("telemetry.enabled", false)
	home, err := os.UserHomeDir()
	if err == nil {
		v.SetDefault("telemetry.parquet_path", filepath.Join(home, ".interrogato", "telemetry"))
	}
}

// overrideWithEnv overrides config with the conventional provider variables
// that users already have exported.
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.NLP.APIKey == "" {
			config.NLP.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Store.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Store.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Store.Password = pass
	}
}

// WriteDefault writes the default configuration to path as YAML.
func WriteDefault(path string) error {
	v := viper.New()
	setDefaults(v)
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unable to decode defaults: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
