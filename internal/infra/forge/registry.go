package forge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"falforge/internal/domain"
	"falforge/internal/infra/telemetry"
)

// DefaultGenerateLimit bounds concurrent syntheses in GenerateAll.
const DefaultGenerateLimit = 4

// ToolSynthesizer builds a tool definition for an endpoint.
type ToolSynthesizer interface {
	Synthesize(ctx context.Context, endpointID string) (*domain.ToolDefinition, error)
}

var _ ToolSynthesizer = (*Synthesizer)(nil)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	GenerateLimit int
	Metrics       domain.Metrics
	Logger        *zap.Logger
}

// Registry owns the synthesized tools. Generation is idempotent and
// concurrency-safe: repeated calls for a generated endpoint return the same
// definition, and concurrent calls for one endpoint share a single
// synthesis. Tools are never evicted.
type Registry struct {
	synth         ToolSynthesizer
	generateLimit int
	metrics       domain.Metrics
	logger        *zap.Logger

	mu    sync.RWMutex
	tools map[string]*domain.ToolDefinition // endpoint ID → tool
	names map[string]string                 // tool name → endpoint ID

	group singleflight.Group
}

func NewRegistry(synth ToolSynthesizer, opts RegistryOptions) *Registry {
	if opts.GenerateLimit <= 0 {
		opts.GenerateLimit = DefaultGenerateLimit
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		synth:         synth,
		generateLimit: opts.GenerateLimit,
		metrics:       opts.Metrics,
		logger:        opts.Logger.Named("registry"),
		tools:         make(map[string]*domain.ToolDefinition),
		names:         make(map[string]string),
	}
}

// HasTool reports whether a tool has been generated for the endpoint.
func (r *Registry) HasTool(endpointID string) bool {
	_, ok := r.lookup(endpointID)
	return ok
}

// Tool returns a tool by name, falling back to endpoint-ID lookup.
func (r *Registry) Tool(name string) (*domain.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.names[name]; ok {
		return r.tools[id], true
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// Tools returns every generated tool, sorted by name.
func (r *Registry) Tools() []*domain.ToolDefinition {
	r.mu.RLock()
	out := make([]*domain.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Description returns the advertised description for a generated endpoint.
func (r *Registry) Description(endpointID string) (string, bool) {
	tool, ok := r.lookup(endpointID)
	if !ok {
		return "", false
	}
	return tool.Description, true
}

// Count returns how many tools are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Generate returns the endpoint's tool, synthesizing it on first use.
// Concurrent callers for the same endpoint share one synthesis; callers
// after a failure retry it.
func (r *Registry) Generate(ctx context.Context, endpointID string) (*domain.ToolDefinition, error) {
	if tool, ok := r.lookup(endpointID); ok {
		return tool, nil
	}

	v, err, shared := r.group.Do(endpointID, func() (any, error) {
		if tool, ok := r.lookup(endpointID); ok {
			return tool, nil
		}
		tool, err := r.synth.Synthesize(ctx, endpointID)
		if err != nil {
			return nil, err
		}
		r.store(tool)
		return tool, nil
	})
	if shared {
		r.metrics.ObserveGenerateDeduped()
	}
	if err != nil {
		return nil, err
	}
	return v.(*domain.ToolDefinition), nil
}

// GenerateOutcome is one endpoint's result from GenerateAll.
type GenerateOutcome struct {
	EndpointID string
	Tool       *domain.ToolDefinition
	Err        error
}

// GenerateAll generates tools for every endpoint with bounded concurrency.
// Failures are per-endpoint: one bad endpoint never aborts the rest, and
// outcomes align with the input order.
func (r *Registry) GenerateAll(ctx context.Context, endpointIDs []string) []GenerateOutcome {
	outcomes := make([]GenerateOutcome, len(endpointIDs))
	g := new(errgroup.Group)
	g.SetLimit(r.generateLimit)
	for i, id := range endpointIDs {
		g.Go(func() error {
			tool, err := r.Generate(ctx, id)
			outcomes[i] = GenerateOutcome{EndpointID: id, Tool: tool, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Execute validates args against the named tool's input schema and invokes
// it. The name may be a tool name or an endpoint ID.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (domain.ExecutionResult, error) {
	tool, ok := r.Tool(name)
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("%s: %w", name, domain.ErrToolNotGenerated)
	}
	cleaned, err := tool.Validator.Validate(args)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	return tool.Execute(ctx, cleaned)
}

func (r *Registry) lookup(endpointID string) (*domain.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[endpointID]
	return tool, ok
}

func (r *Registry) store(tool *domain.ToolDefinition) {
	r.mu.Lock()
	r.tools[tool.EndpointID] = tool
	r.names[tool.Name] = tool.EndpointID
	count := len(r.tools)
	r.mu.Unlock()

	r.metrics.SetRegisteredTools(count)
	r.logger.Info("tool registered",
		zap.String("tool", tool.Name),
		zap.String("endpoint", tool.EndpointID),
		zap.Int("registered", count))
}
