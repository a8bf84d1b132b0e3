package telemetry

import (
	"time"

	"falforge/internal/domain"
)

// NoopMetrics discards every observation. It backs tests and deployments
// that run without a metrics listener.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveRankStage(_ domain.RankStage, _ time.Duration) {}

func (n *NoopMetrics) ObserveRerankTokens(_ string, _ string, _ int) {}

func (n *NoopMetrics) ObserveRerankLatency(_ string, _ string, _ time.Duration) {}

func (n *NoopMetrics) ObserveRerankFallback(_ domain.FallbackReason) {}

func (n *NoopMetrics) ObserveSynthesis(_ domain.SynthesisOutcome, _ time.Duration) {}

func (n *NoopMetrics) ObserveGenerateDeduped() {}

func (n *NoopMetrics) SetRegisteredTools(_ int) {}

func (n *NoopMetrics) ObserveCatalogRequest(_ domain.CatalogOp, _ domain.RequestOutcome, _ time.Duration) {
}

func (n *NoopMetrics) ObserveQueueSubmit(_ domain.RequestOutcome, _ time.Duration) {}

func (n *NoopMetrics) ObserveQueuePoll(_ domain.QueueState) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
