package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"falforge/internal/domain"
)

type PrometheusMetrics struct {
	rankStageDuration *prometheus.HistogramVec
	rerankTokens      *prometheus.CounterVec
	rerankLatency     *prometheus.HistogramVec
	rerankFallbacks   *prometheus.CounterVec
	synthesisDuration *prometheus.HistogramVec
	generateDeduped   prometheus.Counter
	registeredTools   prometheus.Gauge
	catalogRequests   *prometheus.HistogramVec
	queueSubmits      *prometheus.HistogramVec
	queuePolls        *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		rankStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "falforge_rank_stage_duration_seconds",
				Help:    "Duration of ranking stages in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		rerankTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "falforge_rerank_tokens_total",
				Help: "Total number of tokens consumed by re-ranking LLM calls",
			},
			[]string{"provider", "model"},
		),
		rerankLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "falforge_rerank_latency_seconds",
				Help:    "Latency of re-ranking LLM calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "model"},
		),
		rerankFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "falforge_rerank_fallbacks_total",
				Help: "Total number of quality-sort fallbacks taken by the ranker",
			},
			[]string{"reason"},
		),
		synthesisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "falforge_synthesis_duration_seconds",
				Help:    "Duration of tool synthesis attempts in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		generateDeduped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "falforge_generate_deduped_total",
				Help: "Total number of generate calls coalesced into an in-flight synthesis",
			},
		),
		registeredTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "falforge_registered_tools",
				Help: "Current number of tools held by the registry",
			},
		),
		catalogRequests: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "falforge_catalog_request_duration_seconds",
				Help:    "Duration of catalog service requests in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op", "outcome"},
		),
		queueSubmits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "falforge_queue_submit_duration_seconds",
				Help:    "Duration of generation queue submissions in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		queuePolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "falforge_queue_polls_total",
				Help: "Total number of queue status polls by reported state",
			},
			[]string{"state"},
		),
	}
}

func (p *PrometheusMetrics) ObserveRankStage(stage domain.RankStage, duration time.Duration) {
	p.rankStageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRerankTokens(provider string, model string, tokens int) {
	p.rerankTokens.WithLabelValues(provider, model).Add(float64(tokens))
}

func (p *PrometheusMetrics) ObserveRerankLatency(provider string, model string, duration time.Duration) {
	p.rerankLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRerankFallback(reason domain.FallbackReason) {
	p.rerankFallbacks.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusMetrics) ObserveSynthesis(outcome domain.SynthesisOutcome, duration time.Duration) {
	p.synthesisDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveGenerateDeduped() {
	p.generateDeduped.Inc()
}

func (p *PrometheusMetrics) SetRegisteredTools(count int) {
	p.registeredTools.Set(float64(count))
}

func (p *PrometheusMetrics) ObserveCatalogRequest(op domain.CatalogOp, outcome domain.RequestOutcome, duration time.Duration) {
	p.catalogRequests.WithLabelValues(string(op), string(outcome)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveQueueSubmit(outcome domain.RequestOutcome, duration time.Duration) {
	p.queueSubmits.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveQueuePoll(state domain.QueueState) {
	p.queuePolls.WithLabelValues(string(state)).Inc()
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
