package app

import (
	"context"

	"falforge/internal/domain"
	"falforge/internal/infra/config"
)

type SearchConfig struct {
	ConfigPath string
	Query      string
	HasImage   bool
	// Limit overrides the configured result count when positive.
	Limit int
}

// Search runs the ranking pipeline once and returns the matches, best first.
func (a *App) Search(ctx context.Context, sc SearchConfig) ([]domain.RankedModel, error) {
	cfg, err := config.NewLoader(a.logger).Load(ctx, sc.ConfigPath)
	if err != nil {
		return nil, err
	}
	if sc.Limit > 0 {
		cfg.Ranker.Limit = sc.Limit
	}
	pipe, err := a.buildPipeline(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pipe.Ranker.Rank(ctx, sc.Query, sc.HasImage)
}

type SynthConfig struct {
	ConfigPath string
	EndpointID string
}

// SynthReport is the printable synthesis outcome for one endpoint.
type SynthReport struct {
	ToolName    string         `json:"toolName"`
	EndpointID  string         `json:"endpointId"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Synthesize generates the tool for one endpoint and reports the surface it
// would advertise.
func (a *App) Synthesize(ctx context.Context, sc SynthConfig) (SynthReport, error) {
	cfg, err := config.NewLoader(a.logger).Load(ctx, sc.ConfigPath)
	if err != nil {
		return SynthReport{}, err
	}
	pipe, err := a.buildPipeline(ctx, cfg)
	if err != nil {
		return SynthReport{}, err
	}
	tool, err := pipe.Forge.Generate(ctx, sc.EndpointID)
	if err != nil {
		return SynthReport{}, err
	}
	return SynthReport{
		ToolName:    tool.Name,
		EndpointID:  tool.EndpointID,
		Description: tool.Description,
		InputSchema: tool.Validator.Schema(),
	}, nil
}
