package app

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"falforge/internal/domain"
	"falforge/internal/infra/config"
	"falforge/internal/infra/falcat"
	"falforge/internal/infra/falqueue"
	"falforge/internal/infra/forge"
	"falforge/internal/infra/gateway"
	"falforge/internal/infra/ranker"
	"falforge/internal/infra/telemetry"
)

// pipeline is the wired object graph serving one process.
type pipeline struct {
	Catalog *falcat.Client
	Curated *ranker.CuratedTable
	Ranker  *ranker.Ranker
	Queue   *falqueue.Client
	Forge   *forge.Registry
	Gateway *gateway.Gateway
	// Gatherer is nil when no metrics listener is configured.
	Gatherer prometheus.Gatherer
}

func (a *App) buildPipeline(ctx context.Context, cfg config.Config) (*pipeline, error) {
	var (
		metrics  domain.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.ListenAddress != "" {
		registry := prometheus.NewRegistry()
		metrics = telemetry.NewPrometheusMetrics(registry)
		gatherer = registry
	} else {
		metrics = telemetry.NewNoopMetrics()
	}

	catalog := falcat.New(falcat.Options{
		BaseURL:     cfg.Catalog.BaseURL,
		SpecBaseURL: cfg.Catalog.SpecBaseURL,
		HTTPClient:  &http.Client{Timeout: cfg.Catalog.RequestTimeout},
		RateLimit:   cfg.Catalog.RateLimit,
		RateBurst:   cfg.Catalog.RateBurst,
		Logger:      a.logger,
		Metrics:     metrics,
	})

	curated, err := ranker.NewCuratedTable(cfg.Ranker.CuratedOverrides, a.logger)
	if err != nil {
		return nil, err
	}

	reranker, err := a.buildReranker(ctx, cfg.Ranker.LLM, metrics)
	if err != nil {
		return nil, err
	}

	rk := ranker.New(catalog, curated, ranker.Options{
		Limit: cfg.Ranker.Limit,
		Heuristic: ranker.HeuristicConfig{
			QualityWeight:   cfg.Ranker.QualityWeight,
			MinScore:        cfg.Ranker.MinScore,
			ShortlistFactor: cfg.Ranker.ShortlistFactor,
		},
		Reranker: reranker,
		Metrics:  metrics,
		Logger:   a.logger,
	})

	credential := os.Getenv(cfg.Queue.APIKeyEnv)
	if credential == "" {
		a.logger.Warn("queue credential not set; model invocations will fail",
			zap.String("env", cfg.Queue.APIKeyEnv))
	}
	queue := falqueue.New(falqueue.Options{
		BaseURL:      cfg.Queue.BaseURL,
		Credential:   credential,
		HTTPClient:   &http.Client{Timeout: cfg.Queue.RequestTimeout},
		PollInterval: cfg.Queue.PollInterval,
		Logger:       a.logger,
		Metrics:      metrics,
	})

	synth := forge.NewSynthesizer(catalog, queue, metrics, a.logger)
	registry := forge.NewRegistry(synth, forge.RegistryOptions{
		Metrics: metrics,
		Logger:  a.logger,
	})

	gw := gateway.New(rk, registry, gateway.Options{
		ServerName:           cfg.Gateway.ServerName,
		ExposeGeneratedTools: cfg.Gateway.ExposeGeneratedTools,
		Logger:               a.logger,
	})

	return &pipeline{
		Catalog:  catalog,
		Curated:  curated,
		Ranker:   rk,
		Queue:    queue,
		Forge:    registry,
		Gateway:  gw,
		Gatherer: gatherer,
	}, nil
}

// buildReranker initializes the LLM stage. A missing API key degrades to
// heuristic-only ranking instead of failing startup; an unsupported
// provider is a configuration error.
func (a *App) buildReranker(ctx context.Context, cfg config.RerankLLMConfig, metrics domain.Metrics) (ranker.Reranker, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(os.Getenv(cfg.APIKeyEnvVar)) == "" {
		a.logger.Warn("rerank API key not set; falling back to heuristic-only ranking",
			zap.String("env", cfg.APIKeyEnvVar))
		return nil, nil
	}

	rr, err := ranker.NewLLMRerankerFromConfig(ctx, ranker.RerankModelConfig{
		Provider:     cfg.Provider,
		Model:        cfg.Model,
		APIKey:       cfg.APIKey,
		APIKeyEnvVar: cfg.APIKeyEnvVar,
		BaseURL:      cfg.BaseURL,
	}, metrics, a.logger)
	if err != nil {
		return nil, err
	}
	return rr, nil
}
