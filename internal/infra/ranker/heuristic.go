package ranker

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"falforge/internal/domain"
)

// Scoring weights for the heuristic stage. Keyword hits count one point each;
// everything else stacks on top.
const (
	bonusCategoryMatch = 25.0
	bonusIntent        = 15.0
	bonusLongPrompt    = 10.0
	bonusActive        = 5.0
	penaltyNeedsImage  = -1000.0

	// DefaultQualityWeight scales the curated quality score into the total.
	DefaultQualityWeight = 0.3
	// DefaultMinScore sits just above the uncurated baseline so zero-signal
	// candidates drop out unless a category match or high curation rescues them.
	DefaultMinScore = 25.0
	// DefaultShortlistFactor caps the shortlist at this multiple of the limit.
	DefaultShortlistFactor = 3
	// DefaultHighQuality is the curation score that keeps a candidate in the
	// shortlist regardless of relevance.
	DefaultHighQuality = 90
)

// HeuristicConfig tunes the deterministic scoring stage. Zero values take the
// package defaults.
type HeuristicConfig struct {
	QualityWeight   float64
	MinScore        float64
	ShortlistFactor int
	HighQuality     int
}

func (c HeuristicConfig) withDefaults() HeuristicConfig {
	if c.QualityWeight <= 0 {
		c.QualityWeight = DefaultQualityWeight
	}
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	if c.ShortlistFactor <= 0 {
		c.ShortlistFactor = DefaultShortlistFactor
	}
	if c.HighQuality <= 0 {
		c.HighQuality = DefaultHighQuality
	}
	return c
}

// Heuristic scores catalog candidates against query signals and builds the
// shortlist handed to the reranker.
type Heuristic struct {
	curated *CuratedTable
	cfg     HeuristicConfig
	logger  *zap.Logger
}

func NewHeuristic(curated *CuratedTable, cfg HeuristicConfig, logger *zap.Logger) *Heuristic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heuristic{
		curated: curated,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("heuristic"),
	}
}

// Shortlist scores every candidate and keeps the ones worth re-ranking:
// score above the floor, a detected-category match, or high curation.
// Image-requiring models score below zero when no image is in hand and are
// never rescued. The result is ordered best-first and capped at
// ShortlistFactor times limit.
func (h *Heuristic) Shortlist(candidates []domain.ModelRecord, signals querySignals, hasImage bool, limit int) []domain.RankedModel {
	if limit <= 0 {
		limit = DefaultLimit
	}

	kept := make([]domain.RankedModel, 0, len(candidates))
	for _, rec := range candidates {
		rec.QualityScore = h.curated.Score(rec.ID)
		score, reasons := h.score(rec, signals, hasImage)
		if score < 0 {
			continue
		}
		categoryHit := containsCategory(signals.categories, rec.Category)
		if score <= h.cfg.MinScore && !categoryHit && rec.QualityScore < h.cfg.HighQuality {
			continue
		}
		kept = append(kept, domain.RankedModel{ModelRecord: rec, Score: score, Reasons: reasons})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		if kept[i].QualityScore != kept[j].QualityScore {
			return kept[i].QualityScore > kept[j].QualityScore
		}
		return kept[i].ID < kept[j].ID
	})

	if n := h.cfg.ShortlistFactor * limit; len(kept) > n {
		kept = kept[:n]
	}
	return kept
}

func (h *Heuristic) score(rec domain.ModelRecord, signals querySignals, hasImage bool) (float64, []string) {
	var reasons []string
	text := rec.SearchText()
	id := strings.ToLower(rec.ID)

	score := 0.0
	hits := 0
	for _, kw := range signals.keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	if hits > 0 {
		score += float64(hits)
		reasons = append(reasons, fmt.Sprintf("%d keyword hits", hits))
	}

	score += float64(rec.QualityScore) * h.cfg.QualityWeight
	if h.curated.Curated(rec.ID) {
		reasons = append(reasons, fmt.Sprintf("curated quality %d", rec.QualityScore))
	}

	if signals.wantsSpeed && containsAny(id, "schnell", "turbo", "lightning", "fast") {
		score += bonusIntent
		reasons = append(reasons, "speed intent")
	}
	if signals.wantsRealism && containsAny(id, "flux", "realism", "realistic") {
		score += bonusIntent
		reasons = append(reasons, "photorealism intent")
	}
	if signals.wantsArtistic && containsAny(id, "recraft", "artistic", "ideogram") {
		score += bonusIntent
		reasons = append(reasons, "artistic intent")
	}
	if signals.longPrompt && strings.Contains(id, "kontext") {
		score += bonusLongPrompt
		reasons = append(reasons, "long prompt")
	}
	if containsCategory(signals.categories, rec.Category) {
		score += bonusCategoryMatch
		reasons = append(reasons, "category "+string(rec.Category))
	}
	if !rec.Deprecated {
		score += bonusActive
	} else {
		reasons = append(reasons, "deprecated")
	}
	if rec.RequiresImage && !hasImage {
		score += penaltyNeedsImage
		reasons = append(reasons, "requires image input")
	}
	return score, reasons
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsCategory(cats []domain.Category, c domain.Category) bool {
	for _, cat := range cats {
		if cat == c {
			return true
		}
	}
	return false
}
