package domain

import "time"

// RankStage labels one stage of the hybrid ranking pipeline.
type RankStage string

const (
	// RankStageHeuristic is the deterministic scoring pass.
	RankStageHeuristic RankStage = "heuristic"
	// RankStageRerank is the LLM-assisted re-ranking pass.
	RankStageRerank RankStage = "rerank"
)

// FallbackReason describes why the ranker fell back to quality-sort order.
type FallbackReason string

const (
	// FallbackProviderError indicates the LLM call itself failed.
	FallbackProviderError FallbackReason = "provider_error"
	// FallbackParseError indicates the LLM response was not parseable.
	FallbackParseError FallbackReason = "parse_error"
	// FallbackInvalidSelection indicates the LLM picked unknown identifiers.
	FallbackInvalidSelection FallbackReason = "invalid_selection"
	// FallbackDisabled indicates re-ranking is turned off by configuration.
	FallbackDisabled FallbackReason = "disabled"
)

// SynthesisOutcome labels how a tool-synthesis attempt ended.
type SynthesisOutcome string

const (
	// SynthesisOK indicates a tool definition was produced.
	SynthesisOK SynthesisOutcome = "ok"
	// SynthesisNoSpec indicates the endpoint has no fetchable spec.
	SynthesisNoSpec SynthesisOutcome = "no_spec"
	// SynthesisNoInputSchema indicates no input schema candidate was found.
	SynthesisNoInputSchema SynthesisOutcome = "no_input_schema"
	// SynthesisError indicates an unexpected failure.
	SynthesisError SynthesisOutcome = "error"
)

// CatalogOp labels outbound catalog-service requests.
type CatalogOp string

const (
	// CatalogOpSearch is a model search query.
	CatalogOpSearch CatalogOp = "search"
	// CatalogOpFetchSpec is an OpenAPI spec fetch.
	CatalogOpFetchSpec CatalogOp = "fetch_spec"
)

// RequestOutcome labels an outbound request's result.
type RequestOutcome string

const (
	// OutcomeOK indicates a usable response.
	OutcomeOK RequestOutcome = "ok"
	// OutcomeMiss indicates an expected absence (e.g. spec not published).
	OutcomeMiss RequestOutcome = "miss"
	// OutcomeError indicates a transport or decode failure.
	OutcomeError RequestOutcome = "error"
)

// Metrics records operational metrics for ranking, synthesis and execution.
type Metrics interface {
	ObserveRankStage(stage RankStage, duration time.Duration)
	ObserveRerankTokens(provider, model string, tokens int)
	ObserveRerankLatency(provider, model string, duration time.Duration)
	ObserveRerankFallback(reason FallbackReason)
	ObserveSynthesis(outcome SynthesisOutcome, duration time.Duration)
	ObserveGenerateDeduped()
	SetRegisteredTools(count int)
	ObserveCatalogRequest(op CatalogOp, outcome RequestOutcome, duration time.Duration)
	ObserveQueueSubmit(outcome RequestOutcome, duration time.Duration)
	ObserveQueuePoll(state QueueState)
}
