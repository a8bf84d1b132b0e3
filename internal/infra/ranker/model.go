package ranker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"falforge/internal/domain"
)

// RerankModelConfig selects and authenticates the chat model behind the
// reranker.
type RerankModelConfig struct {
	Provider     string
	Model        string
	APIKey       string
	APIKeyEnvVar string
	BaseURL      string
}

// NewLLMRerankerFromConfig initializes the provider model and wraps it in an
// LLMReranker.
func NewLLMRerankerFromConfig(ctx context.Context, cfg RerankModelConfig, metrics domain.Metrics, logger *zap.Logger) (*LLMReranker, error) {
	chatModel, err := initializeModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize model: %w", err)
	}
	return NewLLMReranker(chatModel, cfg.Provider, cfg.Model, metrics, logger), nil
}

// initializeModel creates the chat model based on configuration.
func initializeModel(ctx context.Context, cfg RerankModelConfig) (model.ToolCallingChatModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envVar := strings.TrimSpace(cfg.APIKeyEnvVar)
		if envVar == "" {
			return nil, fmt.Errorf("API key is required: set ranker.llm.apiKey or ranker.llm.apiKeyEnv")
		}
		apiKey = os.Getenv(envVar)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in env var %s", envVar)
		}
	}

	switch cfg.Provider {
	case "openai", "":
		mc := &openai.ChatModelConfig{
			Model:  cfg.Model,
			APIKey: apiKey,
		}
		if cfg.BaseURL != "" {
			mc.BaseURL = cfg.BaseURL
		}
		return openai.NewChatModel(ctx, mc)
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", cfg.Provider)
	}
}
