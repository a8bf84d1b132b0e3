// Package gateway exposes the model pipeline over MCP. Two fixed meta-tools
// drive it: discover_models ranks the catalog and synthesizes tools for the
// winners, invoke_model executes a synthesized tool. Each successful
// synthesis is additionally registered as a first-class MCP tool so clients
// can call models directly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"falforge/internal/buildinfo"
	"falforge/internal/domain"
	"falforge/internal/infra/forge"
	"falforge/internal/infra/ranker"
)

const defaultServerName = "falforged"

const serverInstructions = `This server turns fal.ai generative models into callable tools on demand.
Start with discover_models, describing the task in plain language; it returns
the best-matching models, each with a toolName and input schema, and registers
them as tools. Then call the generated tool directly, or use invoke_model with
the toolName and an arguments object. Calls submit to the generation queue and
return the queue state with a request id.`

// Ranker is the slice of the ranking pipeline the gateway needs.
type Ranker interface {
	Rank(ctx context.Context, query string, hasImageInput bool) ([]domain.RankedModel, error)
}

// ToolForge generates and executes model tools.
type ToolForge interface {
	GenerateAll(ctx context.Context, endpointIDs []string) []forge.GenerateOutcome
	Execute(ctx context.Context, name string, args map[string]any) (domain.ExecutionResult, error)
}

var (
	_ Ranker    = (*ranker.Ranker)(nil)
	_ ToolForge = (*forge.Registry)(nil)
)

// Options configures a Gateway. Zero values take defaults.
type Options struct {
	// ServerName is the MCP server identity advertised to clients.
	ServerName string
	// ExposeGeneratedTools controls whether synthesized tools are also
	// registered as first-class MCP tools. invoke_model works either way.
	ExposeGeneratedTools bool
	Logger               *zap.Logger
}

// Gateway owns the MCP server and the dynamic tool surface.
type Gateway struct {
	ranker Ranker
	forge  ToolForge
	expose bool
	logger *zap.Logger
	server *mcp.Server

	mu         sync.Mutex
	registered map[string]struct{}
}

func New(rk Ranker, tf ToolForge, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ServerName == "" {
		opts.ServerName = defaultServerName
	}

	g := &Gateway{
		ranker:     rk,
		forge:      tf,
		expose:     opts.ExposeGeneratedTools,
		logger:     opts.Logger.Named("gateway"),
		registered: make(map[string]struct{}),
	}
	g.server = mcp.NewServer(&mcp.Implementation{
		Name:    opts.ServerName,
		Version: buildinfo.Version,
	}, &mcp.ServerOptions{
		HasTools:     true,
		Instructions: serverInstructions,
	})

	discoverTool := DiscoverModelsTool()
	g.server.AddTool(&discoverTool, g.discoverHandler())
	invokeTool := InvokeModelTool()
	g.server.AddTool(&invokeTool, g.invokeHandler())
	return g
}

// Run serves MCP over stdio until the context ends.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("gateway starting (stdio transport)")
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

type discoverParams struct {
	Query    string `json:"query"`
	HasImage bool   `json:"hasImage"`
	Limit    int    `json:"limit"`
}

type invokeParams struct {
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

// discoveredModel is one discover_models result entry. Entries keep the
// ranker's order; a failed synthesis carries its error in place of a tool.
type discoveredModel struct {
	ToolName     string         `json:"toolName,omitempty"`
	EndpointID   string         `json:"endpointId"`
	Description  string         `json:"description,omitempty"`
	Category     string         `json:"category,omitempty"`
	QualityScore int            `json:"qualityScore,omitempty"`
	Score        float64        `json:"score"`
	Reasons      []string       `json:"reasons,omitempty"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type discoverResponse struct {
	Query  string            `json:"query"`
	Models []discoveredModel `json:"models"`
}

func (g *Gateway) discoverHandler() mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p discoverParams
		if err := decodeArgs(req, &p); err != nil {
			return errorResult("invalid arguments: %v", err), nil
		}
		if strings.TrimSpace(p.Query) == "" {
			return errorResult("query is required"), nil
		}

		ranked, err := g.ranker.Rank(ctx, p.Query, p.HasImage)
		if err != nil {
			return errorResult("model search failed: %v", err), nil
		}
		if p.Limit > 0 && len(ranked) > p.Limit {
			ranked = ranked[:p.Limit]
		}

		resp := discoverResponse{Query: p.Query, Models: []discoveredModel{}}
		if len(ranked) == 0 {
			g.logger.Info("no models matched", zap.String("query", p.Query))
			return textResult(resp), nil
		}

		ids := make([]string, len(ranked))
		for i, m := range ranked {
			ids[i] = m.ID
		}
		for i, outcome := range g.forge.GenerateAll(ctx, ids) {
			m := ranked[i]
			entry := discoveredModel{
				EndpointID:   m.ID,
				Category:     string(m.Category),
				QualityScore: m.QualityScore,
				Score:        m.Score,
				Reasons:      m.Reasons,
			}
			if outcome.Err != nil {
				entry.Error = outcome.Err.Error()
				g.logger.Warn("tool synthesis failed",
					zap.String("endpoint", m.ID),
					zap.Error(outcome.Err))
			} else {
				entry.ToolName = outcome.Tool.Name
				entry.Description = outcome.Tool.Description
				entry.InputSchema = outcome.Tool.Validator.Schema()
				if g.expose {
					g.exposeTool(outcome.Tool)
				}
			}
			resp.Models = append(resp.Models, entry)
		}
		return textResult(resp), nil
	}
}

func (g *Gateway) invokeHandler() mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p invokeParams
		if err := decodeArgs(req, &p); err != nil {
			return errorResult("invalid arguments: %v", err), nil
		}
		if strings.TrimSpace(p.ToolName) == "" {
			return errorResult("toolName is required"), nil
		}
		return g.execute(ctx, p.ToolName, p.Arguments), nil
	}
}

// generatedHandler backs one dynamically registered model tool.
func (g *Gateway) generatedHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("invalid arguments: %v", err), nil
		}
		return g.execute(ctx, name, args), nil
	}
}

// execute runs a generated tool and renders the outcome in-band. Expected
// failures (bad input, unknown tool, upstream rejection) become IsError
// results rather than protocol errors so the client can read and react.
func (g *Gateway) execute(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	result, err := g.forge.Execute(ctx, name, args)
	if err != nil {
		var vErr *domain.ValidationError
		switch {
		case errors.As(err, &vErr):
			return errorResult("%v", err)
		case errors.Is(err, domain.ErrToolNotGenerated):
			return errorResult("unknown tool %q; run discover_models first", name)
		default:
			g.logger.Warn("execution failed", zap.String("tool", name), zap.Error(err))
			return errorResult("execution failed: %v", err)
		}
	}
	return textResult(result)
}

func (g *Gateway) exposeTool(def *domain.ToolDefinition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.registered[def.Name]; ok {
		return
	}
	g.server.AddTool(&mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.Validator.Schema(),
	}, g.generatedHandler(def.Name))
	g.registered[def.Name] = struct{}{}
	g.logger.Info("tool exposed",
		zap.String("tool", def.Name),
		zap.String("endpoint", def.EndpointID))
}

func decodeArgs(req *mcp.CallToolRequest, v any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode response: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
