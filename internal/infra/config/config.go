// Package config loads the falforged YAML configuration, applies the
// built-in defaults and validates the result. Duration-like settings are
// written as integer seconds or milliseconds in the file and surface here
// as time.Duration.
package config

import (
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	// DefaultAPIKeyEnv names the environment variable holding the fal.ai
	// queue credential when the config does not override it.
	DefaultAPIKeyEnv = "FAL_KEY"

	DefaultSubscribeTimeout = 180 * time.Second

	DefaultRerankProvider = "openai"
	DefaultRerankModel    = "gpt-4o-mini"
	DefaultRerankKeyEnv   = "OPENAI_API_KEY"

	DefaultServerName = "falforged"
	DefaultLogLevel   = "info"
)

type Config struct {
	Catalog       CatalogConfig
	Queue         QueueConfig
	Ranker        RankerConfig
	Gateway       GatewayConfig
	Observability ObservabilityConfig
	Logging       LoggingConfig
}

// CatalogConfig drives the fal.ai model catalog client.
type CatalogConfig struct {
	BaseURL        string
	SpecBaseURL    string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

// QueueConfig drives the queue-mode execution client. APIKeyEnv names the
// environment variable, not the credential itself; the key never appears
// in the config file.
type QueueConfig struct {
	BaseURL          string
	APIKeyEnv        string
	RequestTimeout   time.Duration
	PollInterval     time.Duration
	SubscribeTimeout time.Duration
}

type RankerConfig struct {
	Limit            int
	ShortlistFactor  int
	MinScore         float64
	QualityWeight    float64
	CuratedOverrides string
	LLM              RerankLLMConfig
}

// RerankLLMConfig configures the optional second ranking stage. With
// Enabled false the ranker runs heuristic-only and never calls a model.
type RerankLLMConfig struct {
	Enabled      bool
	Provider     string
	Model        string
	APIKey       string
	APIKeyEnvVar string
	BaseURL      string
}

type GatewayConfig struct {
	ServerName           string
	ExposeGeneratedTools bool
}

// ObservabilityConfig controls the metrics listener. An empty address
// disables it.
type ObservabilityConfig struct {
	ListenAddress string
}

type LoggingConfig struct {
	Level string
}

// ZapLevel maps the configured level name onto a zap level. Load rejects
// unknown names, so the default branch only covers the zero value.
func (c LoggingConfig) ZapLevel() zapcore.Level {
	switch c.Level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
