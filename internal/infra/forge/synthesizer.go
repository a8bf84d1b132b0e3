// Package forge turns catalog endpoints into executable tools. The
// synthesizer fetches an endpoint's OpenAPI document, resolves and compiles
// its input schema, and binds the result to the generation queue; the
// registry keeps the synthesized tools keyed by endpoint with idempotent,
// deduplicated generation.
package forge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"falforge/internal/domain"
	"falforge/internal/infra/falqueue"
	"falforge/internal/infra/schema"
	"falforge/internal/infra/telemetry"
)

// CatalogSource is the slice of the catalog client the synthesizer needs.
// FetchSpec returning a nil document with a nil error means the endpoint
// publishes no spec; Model returning domain.ErrModelNotFound means the
// catalog carries no metadata for it. Both are absences, not failures.
type CatalogSource interface {
	FetchSpec(ctx context.Context, endpointID string) (*domain.SpecDocument, error)
	Model(ctx context.Context, endpointID string) (domain.ModelRecord, error)
}

// Invoker submits tool arguments to the generation queue.
type Invoker interface {
	Invoke(ctx context.Context, target falqueue.Target, args map[string]any) (domain.ExecutionResult, error)
}

// Synthesizer builds tool definitions from endpoint specs.
type Synthesizer struct {
	catalog  CatalogSource
	queue    Invoker
	resolver *schema.Resolver
	compiler *schema.Compiler
	metrics  domain.Metrics
	logger   *zap.Logger
}

func NewSynthesizer(catalog CatalogSource, queue Invoker, metrics domain.Metrics, logger *zap.Logger) *Synthesizer {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		catalog:  catalog,
		queue:    queue,
		resolver: schema.NewResolver(logger),
		compiler: schema.NewCompiler(logger),
		metrics:  metrics,
		logger:   logger.Named("forge"),
	}
}

// Synthesize builds an executable tool for the endpoint. It fails only when
// the endpoint has no spec (domain.ErrSpecUnavailable), no input schema
// candidate (domain.ErrNoInputSchema), or the spec fetch itself errored;
// schema irregularities degrade inside the compiled validator instead.
func (s *Synthesizer) Synthesize(ctx context.Context, endpointID string) (*domain.ToolDefinition, error) {
	started := time.Now()
	tool, outcome, err := s.synthesize(ctx, endpointID)
	s.metrics.ObserveSynthesis(outcome, time.Since(started))
	return tool, err
}

func (s *Synthesizer) synthesize(ctx context.Context, endpointID string) (*domain.ToolDefinition, domain.SynthesisOutcome, error) {
	doc, err := s.catalog.FetchSpec(ctx, endpointID)
	if err != nil {
		return nil, domain.SynthesisError, domain.Wrap(domain.CodeUnavailable, "forge.synthesize", err)
	}
	if doc == nil {
		return nil, domain.SynthesisNoSpec, fmt.Errorf("%s: %w", endpointID, domain.ErrSpecUnavailable)
	}

	schemas := doc.Components.Schemas
	name, ok := inputSchemaName(schemas)
	if !ok {
		return nil, domain.SynthesisNoInputSchema, fmt.Errorf("%s: %w", endpointID, domain.ErrNoInputSchema)
	}

	resolved := s.resolver.Resolve(schemas[name], schemas)
	validator := s.compiler.Compile(endpointID, resolved)

	target := falqueue.Target{
		EndpointID: endpointID,
		BaseURL:    doc.ServerURL(),
		Path:       doc.PostPath(),
	}
	queue := s.queue
	tool := &domain.ToolDefinition{
		Name:        domain.DeriveToolName(endpointID),
		EndpointID:  endpointID,
		Description: s.describe(ctx, doc, endpointID),
		Validator:   validator,
		Execute: func(ctx context.Context, args map[string]any) (domain.ExecutionResult, error) {
			return queue.Invoke(ctx, target, args)
		},
	}

	s.logger.Info("tool synthesized",
		zap.String("endpoint", endpointID),
		zap.String("tool", tool.Name),
		zap.String("input_schema", name),
		zap.Int("degradations", len(validator.Diagnostics())))
	return tool, domain.SynthesisOK, nil
}

// inputSchemaName picks the component holding the endpoint's input schema:
// the first name (sorted) containing "Input", else the first name containing
// none of "Output", "Status", "Image".
func inputSchemaName(schemas map[string]any) (string, bool) {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.Contains(name, "Input") {
			return name, true
		}
	}
	for _, name := range names {
		if !strings.Contains(name, "Output") &&
			!strings.Contains(name, "Status") &&
			!strings.Contains(name, "Image") {
			return name, true
		}
	}
	return "", false
}

// describe prefers the catalog's own metadata for the tool description and
// falls back to the spec's info block when the catalog has no record.
func (s *Synthesizer) describe(ctx context.Context, doc *domain.SpecDocument, endpointID string) string {
	record, err := s.catalog.Model(ctx, endpointID)
	switch {
	case err == nil:
		if joined := joinTitleDescription(record.Title, record.ShortDescription); joined != "" {
			return joined
		}
	case !errors.Is(err, domain.ErrModelNotFound):
		s.logger.Debug("catalog metadata unavailable",
			zap.String("endpoint", endpointID), zap.Error(err))
	}
	if joined := joinTitleDescription(doc.Info.Title, doc.Info.Description); joined != "" {
		return joined
	}
	return "Generation endpoint " + endpointID
}

func joinTitleDescription(title, desc string) string {
	title = strings.TrimSpace(title)
	desc = strings.TrimSpace(desc)
	switch {
	case title == "":
		return desc
	case desc == "":
		return title
	default:
		return title + ": " + desc
	}
}
