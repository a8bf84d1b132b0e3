// Package ranker picks the catalog models best suited to a natural-language
// request. A deterministic heuristic stage scores and shortlists candidates;
// an optional LLM stage re-orders the shortlist. The heuristic always runs
// first, and any rerank failure degrades to quality order rather than failing
// the request.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"falforge/internal/domain"
	"falforge/internal/infra/telemetry"
)

// DefaultLimit is how many models a rank request returns when unspecified.
const DefaultLimit = 5

// CatalogSearcher is the slice of the catalog client the ranker needs.
type CatalogSearcher interface {
	Search(ctx context.Context, query string, categories []string, limit int) ([]domain.ModelRecord, error)
}

// Options configures a Ranker. Zero values take defaults; a nil Reranker
// disables the LLM stage.
type Options struct {
	Limit     int
	Heuristic HeuristicConfig
	Reranker  Reranker
	Metrics   domain.Metrics
	Logger    *zap.Logger
}

// Ranker composes catalog search, heuristic scoring and optional LLM
// re-ranking.
type Ranker struct {
	catalog   CatalogSearcher
	heuristic *Heuristic
	reranker  Reranker
	limit     int
	metrics   domain.Metrics
	logger    *zap.Logger
}

func New(catalog CatalogSearcher, curated *CuratedTable, opts Options) *Ranker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return &Ranker{
		catalog:   catalog,
		heuristic: NewHeuristic(curated, opts.Heuristic, opts.Logger),
		reranker:  opts.Reranker,
		limit:     opts.Limit,
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named("ranker"),
	}
}

// Rank returns the models best suited to the query, best first. A catalog
// search failure is the only error; everything downstream degrades to the
// quality-ordered shortlist instead. An empty result means nothing in the
// catalog fit.
func (r *Ranker) Rank(ctx context.Context, query string, hasImageInput bool) ([]domain.RankedModel, error) {
	signals := analyzeQuery(query)
	hasImage := hasImageInput || signals.suppliesImage

	candidates, err := r.catalog.Search(ctx, query, categoryStrings(signals.categories), 0)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	started := time.Now()
	shortlist := r.heuristic.Shortlist(candidates, signals, hasImage, r.limit)
	r.metrics.ObserveRankStage(domain.RankStageHeuristic, time.Since(started))
	if len(shortlist) == 0 {
		r.logger.Debug("no candidates survived shortlist", zap.String("query", query))
		return nil, nil
	}

	if r.reranker == nil {
		r.metrics.ObserveRerankFallback(domain.FallbackDisabled)
		return qualityOrder(shortlist, r.limit), nil
	}

	started = time.Now()
	selection, err := r.reranker.Pick(ctx, query, hasImage, shortlist, r.limit)
	r.metrics.ObserveRankStage(domain.RankStageRerank, time.Since(started))
	if err != nil {
		r.metrics.ObserveRerankFallback(fallbackReason(err))
		r.logger.Warn("rerank failed, falling back to quality order", zap.Error(err))
		return qualityOrder(shortlist, r.limit), nil
	}

	// The model's order is authoritative; no re-sorting past this point.
	byID := make(map[string]domain.RankedModel, len(shortlist))
	for _, m := range shortlist {
		byID[m.ID] = m
	}
	out := make([]domain.RankedModel, 0, len(selection.ModelIDs))
	for _, id := range selection.ModelIDs {
		out = append(out, byID[id])
	}
	r.logger.Info("rerank selection",
		zap.Int("candidates", len(shortlist)),
		zap.Int("selected", len(out)),
		zap.String("reasoning", selection.Reasoning))
	return out, nil
}

// qualityOrder is the deterministic fallback: curated quality first, then
// heuristic score.
func qualityOrder(shortlist []domain.RankedModel, limit int) []domain.RankedModel {
	out := make([]domain.RankedModel, len(shortlist))
	copy(out, shortlist)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func fallbackReason(err error) domain.FallbackReason {
	switch {
	case errors.Is(err, errRerankParse):
		return domain.FallbackParseError
	case errors.Is(err, errRerankSelection):
		return domain.FallbackInvalidSelection
	default:
		return domain.FallbackProviderError
	}
}

func categoryStrings(cats []domain.Category) []string {
	if len(cats) == 0 {
		return nil
	}
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
