package ranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"falforge/internal/domain"
	"falforge/internal/infra/telemetry"
)

// Reranker orders a shortlist for a query. Implementations may call out to an
// LLM; any error makes the ranker fall back to quality order.
type Reranker interface {
	Pick(ctx context.Context, query string, hasImage bool, shortlist []domain.RankedModel, limit int) (Selection, error)
}

// Selection is the reranker's verdict: chosen model IDs in preference order
// plus the free-text rationale behind them.
type Selection struct {
	ModelIDs  []string
	Reasoning string
}

var (
	errRerankParse     = errors.New("rerank response not parseable")
	errRerankSelection = errors.New("rerank selection invalid")
)

// LLMReranker re-orders the shortlist with a chat model.
type LLMReranker struct {
	model    model.ToolCallingChatModel
	provider string
	modelID  string
	metrics  domain.Metrics
	logger   *zap.Logger
}

func NewLLMReranker(chatModel model.ToolCallingChatModel, provider, modelID string, metrics domain.Metrics, logger *zap.Logger) *LLMReranker {
	if provider == "" {
		provider = "openai"
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMReranker{
		model:    chatModel,
		provider: provider,
		modelID:  modelID,
		metrics:  metrics,
		logger:   logger.Named("rerank"),
	}
}

// Pick asks the model to choose up to limit shortlist entries, best first.
// Every returned ID is guaranteed to come from the shortlist.
func (r *LLMReranker) Pick(ctx context.Context, query string, hasImage bool, shortlist []domain.RankedModel, limit int) (Selection, error) {
	if len(shortlist) == 0 {
		return Selection{}, nil
	}

	messages := []*schema.Message{
		schema.SystemMessage(rerankSystemPrompt),
		schema.UserMessage(buildRerankPrompt(query, hasImage, shortlist, limit)),
	}

	started := time.Now()
	stream, err := r.model.Stream(ctx, messages)
	if err != nil {
		r.metrics.ObserveRerankLatency(r.provider, r.modelID, time.Since(started))
		return Selection{}, fmt.Errorf("rerank stream: %w", err)
	}
	response, err := collect(stream)
	r.metrics.ObserveRerankLatency(r.provider, r.modelID, time.Since(started))
	if err != nil {
		return Selection{}, fmt.Errorf("rerank collect: %w", err)
	}
	r.observeTokenUsage(response)

	parsed, err := parseSelection(response.Content)
	if err != nil {
		return Selection{}, err
	}

	valid := make(map[string]bool, len(shortlist))
	for _, m := range shortlist {
		valid[m.ID] = true
	}
	picked := make([]string, 0, len(parsed.Selections))
	seen := make(map[string]bool, len(parsed.Selections))
	var unknown []string
	for _, id := range parsed.Selections {
		switch {
		case !valid[id]:
			unknown = append(unknown, id)
		case !seen[id]:
			seen[id] = true
			picked = append(picked, id)
		}
	}
	if len(unknown) > 0 {
		return Selection{}, fmt.Errorf("%w: unknown models %s", errRerankSelection, strings.Join(unknown, ", "))
	}
	if len(picked) == 0 {
		return Selection{}, fmt.Errorf("%w: empty selection", errRerankSelection)
	}
	if len(picked) > limit {
		picked = picked[:limit]
	}
	return Selection{ModelIDs: picked, Reasoning: parsed.Reasoning}, nil
}

// collect drains the model's delta stream into one message. A single reader
// loop consumes the chunks and stops at the first terminal event: io.EOF
// ends the stream and concatenates, any other error aborts the collection.
func collect(stream *schema.StreamReader[*schema.Message]) (*schema.Message, error) {
	defer stream.Close()
	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return schema.ConcatMessages(chunks)
}

func (r *LLMReranker) observeTokenUsage(response *schema.Message) {
	if response == nil || response.ResponseMeta == nil || response.ResponseMeta.Usage == nil {
		return
	}
	tokens := response.ResponseMeta.Usage.TotalTokens
	if tokens <= 0 {
		return
	}
	r.metrics.ObserveRerankTokens(r.provider, r.modelID, tokens)
}

// buildRerankPrompt lays out the request and the annotated shortlist.
func buildRerankPrompt(query string, hasImage bool, shortlist []domain.RankedModel, limit int) string {
	var sb strings.Builder
	sb.WriteString("User request: ")
	sb.WriteString(query)
	if hasImage {
		sb.WriteString("\nAn input image has been supplied.")
	} else {
		sb.WriteString("\nNo input image has been supplied.")
	}
	sb.WriteString("\n\nCandidate models:\n")
	for _, m := range shortlist {
		fmt.Fprintf(&sb, "- %s | category: %s | quality: %d | heuristic: %.1f | needs image: %t | %s\n",
			m.ID, m.Category, m.QualityScore, m.Score, m.RequiresImage, m.ShortDescription)
	}
	fmt.Fprintf(&sb, "\nPick the best models for this request, at most %d, best first.\n", limit)
	sb.WriteString(`Return only a JSON object: {"selections": ["model-id", ...], "reasoning": "..."}. Do not include any other text.`)
	return sb.String()
}

type rerankResponse struct {
	Selections []string `json:"selections"`
	Reasoning  string   `json:"reasoning"`
}

// parseSelection extracts the JSON verdict from a response that may be wrapped
// in markdown fences or surrounding prose.
func parseSelection(content string) (rerankResponse, error) {
	text := strings.TrimSpace(content)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}
	var parsed rerankResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return rerankResponse{}, fmt.Errorf("%w: %v", errRerankParse, err)
	}
	return parsed, nil
}

const rerankSystemPrompt = `You rank media generation models for a user request. You are given the request and an annotated candidate list.

Choose the models best suited to the request and order them best first. Prefer higher quality scores when candidates are otherwise equal. Never select a model that needs an input image when no input image has been supplied.

Return only a JSON object of the form {"selections": ["model-id"], "reasoning": "one short sentence"}. Output nothing else.`
