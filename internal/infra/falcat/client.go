// Package falcat is the client for the FAL model catalog: free-text model
// search through the catalog's JSON envelope API and per-endpoint OpenAPI
// spec retrieval.
package falcat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"falforge/internal/domain"
	"falforge/internal/infra/telemetry"
)

const (
	DefaultBaseURL     = "https://fal.ai"
	DefaultSpecBaseURL = "https://fal.ai/api"
	DefaultTimeout     = 15 * time.Second
	DefaultRateLimit   = 4.0
	DefaultRateBurst   = 8
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL     string
	SpecBaseURL string
	HTTPClient  *http.Client
	RateLimit   float64
	RateBurst   int
	Logger      *zap.Logger
	Metrics     domain.Metrics
}

// Client talks to the catalog service. It caches nothing beyond an optional
// one-time full catalog load (Prime) used for local keyword search; spec
// fetches are never deduplicated here; that is the tool registry's job.
type Client struct {
	baseURL     string
	specBaseURL string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
	metrics     domain.Metrics

	mu     sync.RWMutex
	primed []domain.ModelRecord
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.SpecBaseURL == "" {
		opts.SpecBaseURL = DefaultSpecBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		specBaseURL: strings.TrimRight(opts.SpecBaseURL, "/"),
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		logger:      opts.Logger.Named("falcat"),
		metrics:     opts.Metrics,
	}
}

// catalogModel is the catalog's wire shape for one model entry.
type catalogModel struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Category         string   `json:"category"`
	Tags             []string `json:"tags"`
	ShortDescription string   `json:"shortDescription"`
	Thumbnail        string   `json:"thumbnailUrl"`
	Deprecated       bool     `json:"deprecated"`
}

// searchEnvelope is the catalog's batched response: an array of wrappers,
// each carrying result.data.json.items.
type searchEnvelope []struct {
	Result struct {
		Data struct {
			JSON struct {
				Items []catalogModel `json:"items"`
			} `json:"json"`
		} `json:"data"`
	} `json:"result"`
}

func (m catalogModel) toRecord() domain.ModelRecord {
	return domain.ModelRecord{
		ID:               m.ID,
		Title:            m.Title,
		Category:         domain.Category(m.Category),
		Tags:             m.Tags,
		ShortDescription: m.ShortDescription,
		Thumbnail:        m.Thumbnail,
		Deprecated:       m.Deprecated,
		RequiresImage:    requiresImageInput(m),
	}
}

// requiresImageInput derives the "needs a prior image" flag from the
// category and tags; the catalog does not publish it directly.
func requiresImageInput(m catalogModel) bool {
	category := strings.ToLower(m.Category)
	if strings.HasPrefix(category, "image-to-") || strings.HasPrefix(category, "video-to-") {
		return true
	}
	for _, tag := range m.Tags {
		switch strings.ToLower(tag) {
		case "image-to-image", "image-to-video", "img2img", "inpainting":
			return true
		}
	}
	return false
}

// Search queries the catalog for models matching the free-text query and
// optional category filters. When the client has been primed, the search
// runs against the in-memory catalog instead of the remote service.
func (c *Client) Search(ctx context.Context, query string, categories []string, limit int) ([]domain.ModelRecord, error) {
	c.mu.RLock()
	primed := c.primed
	c.mu.RUnlock()
	if primed != nil {
		return localSearch(primed, query, categories, limit), nil
	}

	start := time.Now()
	records, err := c.remoteSearch(ctx, query, categories, limit)
	outcome := domain.OutcomeOK
	if err != nil {
		outcome = domain.OutcomeError
	}
	c.metrics.ObserveCatalogRequest(domain.CatalogOpSearch, outcome, time.Since(start))
	return records, err
}

func (c *Client) remoteSearch(ctx context.Context, query string, categories []string, limit int) ([]domain.ModelRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	filters := map[string]any{"query": query}
	if len(categories) > 0 {
		filters["categories"] = categories
	}
	if limit > 0 {
		filters["limit"] = limit
	}
	input, err := json.Marshal(map[string]any{"0": map[string]any{"json": filters}})
	if err != nil {
		return nil, fmt.Errorf("encode search input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/trpc/models.list?batch=1&input=%s", c.baseURL, url.QueryEscape(string(input)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.Upstream("falcat.search", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var records []domain.ModelRecord
	for _, wrapper := range envelope {
		for _, item := range wrapper.Result.Data.JSON.Items {
			records = append(records, item.toRecord())
		}
	}
	c.logger.Debug("catalog search",
		zap.String("query", query),
		zap.Strings("categories", categories),
		zap.Int("results", len(records)))
	return records, nil
}

// Model returns the catalog record for a single endpoint id. A primed
// catalog answers locally by exact id; otherwise the id doubles as the
// search query and the results are matched exactly. A missing record is
// domain.ErrModelNotFound, a catalog gap callers may treat as absence.
func (c *Client) Model(ctx context.Context, endpointID string) (domain.ModelRecord, error) {
	c.mu.RLock()
	records := c.primed
	c.mu.RUnlock()

	if records == nil {
		var err error
		records, err = c.Search(ctx, endpointID, nil, 0)
		if err != nil {
			return domain.ModelRecord{}, err
		}
	}
	for _, rec := range records {
		if rec.ID == endpointID {
			return rec, nil
		}
	}
	return domain.ModelRecord{}, fmt.Errorf("%s: %w", endpointID, domain.ErrModelNotFound)
}

// FetchSpec retrieves the OpenAPI document for an endpoint. Spec absence is
// an expected, recoverable condition: any fetch or parse failure yields
// (nil, nil) rather than an error. Only context cancellation propagates.
func (c *Client) FetchSpec(ctx context.Context, endpointID string) (*domain.SpecDocument, error) {
	start := time.Now()
	doc, err := c.fetchSpec(ctx, endpointID)
	outcome := domain.OutcomeOK
	switch {
	case err != nil:
		outcome = domain.OutcomeError
	case doc == nil:
		outcome = domain.OutcomeMiss
	}
	c.metrics.ObserveCatalogRequest(domain.CatalogOpFetchSpec, outcome, time.Since(start))
	return doc, err
}

func (c *Client) fetchSpec(ctx context.Context, endpointID string) (*domain.SpecDocument, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/openapi.json?endpoint_id=%s", c.specBaseURL, url.QueryEscape(endpointID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build spec request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("spec fetch failed", zap.String("endpoint_id", endpointID), zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("spec not available",
			zap.String("endpoint_id", endpointID),
			zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	var doc domain.SpecDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		c.logger.Debug("spec decode failed", zap.String("endpoint_id", endpointID), zap.Error(err))
		return nil, nil
	}
	return &doc, nil
}

// Prime loads the full catalog once so subsequent searches run locally.
func (c *Client) Prime(ctx context.Context) error {
	records, err := c.remoteSearch(ctx, "", nil, 0)
	if err != nil {
		return fmt.Errorf("prime catalog: %w", err)
	}
	c.mu.Lock()
	c.primed = records
	c.mu.Unlock()
	c.logger.Info("catalog primed", zap.Int("models", len(records)))
	return nil
}

// Primed reports whether a full catalog load is being served.
func (c *Client) Primed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primed != nil
}

func localSearch(records []domain.ModelRecord, query string, categories []string, limit int) []domain.ModelRecord {
	keywords := searchKeywords(query)
	categorySet := make(map[string]bool, len(categories))
	for _, category := range categories {
		categorySet[strings.ToLower(category)] = true
	}

	var out []domain.ModelRecord
	for _, rec := range records {
		if len(categorySet) > 0 && !categorySet[strings.ToLower(string(rec.Category))] {
			continue
		}
		if len(keywords) > 0 && !matchesAny(rec.SearchText(), keywords) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func searchKeywords(query string) []string {
	var keywords []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		if len(field) > 2 {
			keywords = append(keywords, field)
		}
	}
	return keywords
}

func matchesAny(haystack string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}
