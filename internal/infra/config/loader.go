package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"falforge/internal/infra/falcat"
	"falforge/internal/infra/falqueue"
	"falforge/internal/infra/ranker"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.baseURL", falcat.DefaultBaseURL)
	v.SetDefault("catalog.specBaseURL", falcat.DefaultSpecBaseURL)
	v.SetDefault("catalog.requestTimeoutSeconds", int(falcat.DefaultTimeout/time.Second))
	v.SetDefault("catalog.rateLimitPerSecond", falcat.DefaultRateLimit)
	v.SetDefault("catalog.rateBurst", falcat.DefaultRateBurst)
	v.SetDefault("queue.baseURL", falqueue.DefaultBaseURL)
	v.SetDefault("queue.apiKeyEnv", DefaultAPIKeyEnv)
	v.SetDefault("queue.requestTimeoutSeconds", int(falqueue.DefaultTimeout/time.Second))
	v.SetDefault("queue.pollIntervalMs", int(falqueue.DefaultPollInterval/time.Millisecond))
	v.SetDefault("queue.subscribeTimeoutSeconds", int(DefaultSubscribeTimeout/time.Second))
	v.SetDefault("ranker.limit", ranker.DefaultLimit)
	v.SetDefault("ranker.shortlistFactor", ranker.DefaultShortlistFactor)
	v.SetDefault("ranker.minScore", ranker.DefaultMinScore)
	v.SetDefault("ranker.qualityWeight", ranker.DefaultQualityWeight)
	v.SetDefault("ranker.llm.enabled", true)
	v.SetDefault("ranker.llm.provider", DefaultRerankProvider)
	v.SetDefault("ranker.llm.model", DefaultRerankModel)
	v.SetDefault("ranker.llm.apiKeyEnv", DefaultRerankKeyEnv)
	v.SetDefault("gateway.serverName", DefaultServerName)
	v.SetDefault("gateway.exposeGeneratedTools", true)
	v.SetDefault("logging.level", DefaultLogLevel)
}

type rawConfig struct {
	Catalog       rawCatalogConfig       `mapstructure:"catalog"`
	Queue         rawQueueConfig         `mapstructure:"queue"`
	Ranker        rawRankerConfig        `mapstructure:"ranker"`
	Gateway       rawGatewayConfig       `mapstructure:"gateway"`
	Observability rawObservabilityConfig `mapstructure:"observability"`
	Logging       rawLoggingConfig       `mapstructure:"logging"`
}

type rawCatalogConfig struct {
	BaseURL               string  `mapstructure:"baseURL"`
	SpecBaseURL           string  `mapstructure:"specBaseURL"`
	RequestTimeoutSeconds int     `mapstructure:"requestTimeoutSeconds"`
	RateLimitPerSecond    float64 `mapstructure:"rateLimitPerSecond"`
	RateBurst             int     `mapstructure:"rateBurst"`
}

type rawQueueConfig struct {
	BaseURL                 string `mapstructure:"baseURL"`
	APIKeyEnv               string `mapstructure:"apiKeyEnv"`
	RequestTimeoutSeconds   int    `mapstructure:"requestTimeoutSeconds"`
	PollIntervalMs          int    `mapstructure:"pollIntervalMs"`
	SubscribeTimeoutSeconds int    `mapstructure:"subscribeTimeoutSeconds"`
}

type rawRankerConfig struct {
	Limit            int          `mapstructure:"limit"`
	ShortlistFactor  int          `mapstructure:"shortlistFactor"`
	MinScore         float64      `mapstructure:"minScore"`
	QualityWeight    float64      `mapstructure:"qualityWeight"`
	CuratedOverrides string       `mapstructure:"curatedOverrides"`
	LLM              rawLLMConfig `mapstructure:"llm"`
}

type rawLLMConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"apiKey"`
	APIKeyEnvVar string `mapstructure:"apiKeyEnv"`
	BaseURL      string `mapstructure:"baseURL"`
}

type rawGatewayConfig struct {
	ServerName           string `mapstructure:"serverName"`
	ExposeGeneratedTools bool   `mapstructure:"exposeGeneratedTools"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawLoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads, expands and validates the config file at path. An empty
// path yields the built-in defaults, so the daemon runs without a config
// file as long as the queue credential is present in the environment.
func (l *Loader) Load(ctx context.Context, path string) (Config, error) {
	v := newConfigViper()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		expanded, missing := expandConfigEnv(string(data))
		if len(missing) > 0 {
			l.logger.Warn("missing environment variables in config",
				zap.String("path", path), zap.Strings("missing", missing))
		}
		if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	cfg, errs := normalize(raw)
	if len(errs) > 0 {
		return Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

// expandConfigEnv substitutes ${VAR} references before the YAML is parsed
// and reports variables that were not set. Unset references expand to the
// empty string; validation then rejects the field where it matters.
func expandConfigEnv(raw string) (string, []string) {
	missing := make(map[string]struct{})
	expanded := os.Expand(raw, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		missing[key] = struct{}{}
		return ""
	})
	if len(missing) == 0 {
		return expanded, nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return expanded, names
}

func normalize(raw rawConfig) (Config, []string) {
	var errs []string

	catalogCfg, catalogErrs := normalizeCatalog(raw.Catalog)
	errs = append(errs, catalogErrs...)
	queueCfg, queueErrs := normalizeQueue(raw.Queue)
	errs = append(errs, queueErrs...)
	rankerCfg, rankerErrs := normalizeRanker(raw.Ranker)
	errs = append(errs, rankerErrs...)
	gatewayCfg, gatewayErrs := normalizeGateway(raw.Gateway)
	errs = append(errs, gatewayErrs...)
	obsCfg, obsErrs := normalizeObservability(raw.Observability)
	errs = append(errs, obsErrs...)
	loggingCfg, loggingErrs := normalizeLogging(raw.Logging)
	errs = append(errs, loggingErrs...)

	return Config{
		Catalog:       catalogCfg,
		Queue:         queueCfg,
		Ranker:        rankerCfg,
		Gateway:       gatewayCfg,
		Observability: obsCfg,
		Logging:       loggingCfg,
	}, errs
}

func normalizeCatalog(raw rawCatalogConfig) (CatalogConfig, []string) {
	var errs []string

	baseURL := strings.TrimSpace(raw.BaseURL)
	if !isHTTPURL(baseURL) {
		errs = append(errs, "catalog.baseURL must be a valid http(s) URL")
	}
	specBaseURL := strings.TrimSpace(raw.SpecBaseURL)
	if !isHTTPURL(specBaseURL) {
		errs = append(errs, "catalog.specBaseURL must be a valid http(s) URL")
	}
	if raw.RequestTimeoutSeconds <= 0 {
		errs = append(errs, "catalog.requestTimeoutSeconds must be > 0")
	}
	if raw.RateLimitPerSecond <= 0 {
		errs = append(errs, "catalog.rateLimitPerSecond must be > 0")
	}
	if raw.RateBurst < 1 {
		errs = append(errs, "catalog.rateBurst must be >= 1")
	}

	return CatalogConfig{
		BaseURL:        baseURL,
		SpecBaseURL:    specBaseURL,
		RequestTimeout: time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		RateLimit:      raw.RateLimitPerSecond,
		RateBurst:      raw.RateBurst,
	}, errs
}

func normalizeQueue(raw rawQueueConfig) (QueueConfig, []string) {
	var errs []string

	baseURL := strings.TrimSpace(raw.BaseURL)
	if !isHTTPURL(baseURL) {
		errs = append(errs, "queue.baseURL must be a valid http(s) URL")
	}
	apiKeyEnv := strings.TrimSpace(raw.APIKeyEnv)
	if apiKeyEnv == "" {
		errs = append(errs, "queue.apiKeyEnv is required")
	}
	if raw.RequestTimeoutSeconds <= 0 {
		errs = append(errs, "queue.requestTimeoutSeconds must be > 0")
	}
	if raw.PollIntervalMs <= 0 {
		errs = append(errs, "queue.pollIntervalMs must be > 0")
	}
	if raw.SubscribeTimeoutSeconds < 0 {
		errs = append(errs, "queue.subscribeTimeoutSeconds must be >= 0 (0 disables the deadline)")
	}

	return QueueConfig{
		BaseURL:          baseURL,
		APIKeyEnv:        apiKeyEnv,
		RequestTimeout:   time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		PollInterval:     time.Duration(raw.PollIntervalMs) * time.Millisecond,
		SubscribeTimeout: time.Duration(raw.SubscribeTimeoutSeconds) * time.Second,
	}, errs
}

func normalizeRanker(raw rawRankerConfig) (RankerConfig, []string) {
	var errs []string

	if raw.Limit < 1 {
		errs = append(errs, "ranker.limit must be >= 1")
	}
	if raw.ShortlistFactor < 1 {
		errs = append(errs, "ranker.shortlistFactor must be >= 1")
	}
	if raw.MinScore < 0 {
		errs = append(errs, "ranker.minScore must be >= 0")
	}
	if raw.QualityWeight < 0 || raw.QualityWeight > 1 {
		errs = append(errs, "ranker.qualityWeight must be within [0, 1]")
	}

	provider := strings.ToLower(strings.TrimSpace(raw.LLM.Provider))
	if provider == "" {
		provider = DefaultRerankProvider
	}
	model := strings.TrimSpace(raw.LLM.Model)
	if raw.LLM.Enabled {
		if provider != "openai" {
			errs = append(errs, "ranker.llm.provider must be openai")
		}
		if model == "" {
			errs = append(errs, "ranker.llm.model is required when ranker.llm.enabled is true")
		}
	}

	return RankerConfig{
		Limit:            raw.Limit,
		ShortlistFactor:  raw.ShortlistFactor,
		MinScore:         raw.MinScore,
		QualityWeight:    raw.QualityWeight,
		CuratedOverrides: strings.TrimSpace(raw.CuratedOverrides),
		LLM: RerankLLMConfig{
			Enabled:      raw.LLM.Enabled,
			Provider:     provider,
			Model:        model,
			APIKey:       strings.TrimSpace(raw.LLM.APIKey),
			APIKeyEnvVar: strings.TrimSpace(raw.LLM.APIKeyEnvVar),
			BaseURL:      strings.TrimSpace(raw.LLM.BaseURL),
		},
	}, errs
}

func normalizeGateway(raw rawGatewayConfig) (GatewayConfig, []string) {
	var errs []string

	name := strings.TrimSpace(raw.ServerName)
	if name == "" {
		errs = append(errs, "gateway.serverName is required")
	}

	return GatewayConfig{
		ServerName:           name,
		ExposeGeneratedTools: raw.ExposeGeneratedTools,
	}, errs
}

func normalizeObservability(raw rawObservabilityConfig) (ObservabilityConfig, []string) {
	var errs []string

	addr := strings.TrimSpace(raw.ListenAddress)
	if addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, "observability.listenAddress must be host:port")
		}
	}

	return ObservabilityConfig{ListenAddress: addr}, errs
}

func normalizeLogging(raw rawLoggingConfig) (LoggingConfig, []string) {
	var errs []string

	level := strings.ToLower(strings.TrimSpace(raw.Level))
	if level == "" {
		level = DefaultLogLevel
	}
	switch level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	return LoggingConfig{Level: level}, errs
}

func isHTTPURL(value string) bool {
	if value == "" || strings.Contains(value, " ") {
		return false
	}
	parsed, err := url.ParseRequestURI(value)
	return err == nil && parsed.Host != "" && (parsed.Scheme == "http" || parsed.Scheme == "https")
}
