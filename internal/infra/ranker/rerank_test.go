package ranker

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"falforge/internal/domain"
	"falforge/internal/infra/telemetry"
)

// mockChatModel implements model.ToolCallingChatModel for testing.
type mockChatModel struct {
	streamFunc func(ctx context.Context, messages []*schema.Message) (*schema.StreamReader[*schema.Message], error)
}

func (m *mockChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (m *mockChatModel) Stream(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if m.streamFunc != nil {
		return m.streamFunc(ctx, messages)
	}
	return nil, errors.New("not implemented")
}

func (m *mockChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func (m *mockChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// deltaStream chops the content into small assistant chunks so the reader
// loop has to concatenate across deltas.
func deltaStream(content string) *schema.StreamReader[*schema.Message] {
	var chunks []*schema.Message
	for len(content) > 0 {
		size := min(len(content), 17)
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: content[:size]})
		content = content[size:]
	}
	return schema.StreamReaderFromArray(chunks)
}

func respondWith(content string) *mockChatModel {
	return &mockChatModel{
		streamFunc: func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			return deltaStream(content), nil
		},
	}
}

func newTestReranker(chatModel model.ToolCallingChatModel) *LLMReranker {
	return NewLLMReranker(chatModel, "openai", "gpt-4o-mini", telemetry.NewNoopMetrics(), zap.NewNop())
}

func rerankShortlist() []domain.RankedModel {
	return []domain.RankedModel{
		{ModelRecord: domain.ModelRecord{ID: "fal-ai/flux/dev", Category: domain.CategoryTextToImage, QualityScore: 98}, Score: 60},
		{ModelRecord: domain.ModelRecord{ID: "fal-ai/flux/schnell", Category: domain.CategoryTextToImage, QualityScore: 93}, Score: 55},
		{ModelRecord: domain.ModelRecord{ID: "acme/pix-gen", Category: domain.CategoryTextToImage, QualityScore: 50}, Score: 46},
	}
}

func TestLLMReranker_Pick_OrdersByModelResponse(t *testing.T) {
	r := newTestReranker(respondWith(
		`{"selections": ["acme/pix-gen", "fal-ai/flux/dev"], "reasoning": "pix-gen fits the style ask"}`))

	sel, err := r.Pick(context.Background(), "a pixel art fox", false, rerankShortlist(), 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"acme/pix-gen", "fal-ai/flux/dev"}, sel.ModelIDs)
	assert.Equal(t, "pix-gen fits the style ask", sel.Reasoning)
}

func TestLLMReranker_Pick_StripsCodeFences(t *testing.T) {
	r := newTestReranker(respondWith("```json\n{\"selections\": [\"fal-ai/flux/dev\"], \"reasoning\": \"best quality\"}\n```"))

	sel, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"fal-ai/flux/dev"}, sel.ModelIDs)
}

func TestLLMReranker_Pick_RejectsUnknownModel(t *testing.T) {
	r := newTestReranker(respondWith(`{"selections": ["fal-ai/not-in-shortlist"], "reasoning": "x"}`))

	_, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 5)

	require.Error(t, err)
	assert.ErrorIs(t, err, errRerankSelection)
	assert.Contains(t, err.Error(), "fal-ai/not-in-shortlist")
}

func TestLLMReranker_Pick_RejectsInvalidJSON(t *testing.T) {
	r := newTestReranker(respondWith(`the best model is flux`))

	_, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 5)

	assert.ErrorIs(t, err, errRerankParse)
}

func TestLLMReranker_Pick_RejectsEmptySelection(t *testing.T) {
	r := newTestReranker(respondWith(`{"selections": [], "reasoning": "nothing fits"}`))

	_, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 5)

	assert.ErrorIs(t, err, errRerankSelection)
}

func TestLLMReranker_Pick_PropagatesProviderError(t *testing.T) {
	r := newTestReranker(&mockChatModel{
		streamFunc: func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			return nil, errors.New("provider down")
		},
	})

	_, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 5)

	require.Error(t, err)
	assert.NotErrorIs(t, err, errRerankParse)
	assert.NotErrorIs(t, err, errRerankSelection)
}

func TestLLMReranker_Pick_MidStreamErrorAborts(t *testing.T) {
	r := newTestReranker(&mockChatModel{
		streamFunc: func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			reader, writer := schema.Pipe[*schema.Message](2)
			writer.Send(&schema.Message{Role: schema.Assistant, Content: `{"selections": ["fal-`}, nil)
			writer.Send(nil, errors.New("stream torn down"))
			writer.Close()
			return reader, nil
		},
	})

	_, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream torn down")
	assert.NotErrorIs(t, err, errRerankParse)
}

func TestLLMReranker_Pick_TruncatesToLimit(t *testing.T) {
	r := newTestReranker(respondWith(
		`{"selections": ["acme/pix-gen", "fal-ai/flux/dev", "fal-ai/flux/schnell"], "reasoning": "x"}`))

	sel, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"acme/pix-gen", "fal-ai/flux/dev"}, sel.ModelIDs)
}

func TestLLMReranker_Pick_DeduplicatesSelections(t *testing.T) {
	r := newTestReranker(respondWith(
		`{"selections": ["fal-ai/flux/dev", "fal-ai/flux/dev", "acme/pix-gen"], "reasoning": "x"}`))

	sel, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"fal-ai/flux/dev", "acme/pix-gen"}, sel.ModelIDs)
}

func TestLLMReranker_Pick_PromptCarriesShortlistAndConstraint(t *testing.T) {
	var captured []*schema.Message
	r := newTestReranker(&mockChatModel{
		streamFunc: func(_ context.Context, messages []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			captured = messages
			return deltaStream(`{"selections": ["fal-ai/flux/dev"], "reasoning": "x"}`), nil
		},
	})

	_, err := r.Pick(context.Background(), "a fox", false, rerankShortlist(), 3)

	require.NoError(t, err)
	require.Len(t, captured, 2)
	assert.Contains(t, captured[0].Content, "Never select a model that needs an input image")
	assert.Contains(t, captured[1].Content, "fal-ai/flux/schnell")
	assert.Contains(t, captured[1].Content, "No input image has been supplied.")
	assert.Contains(t, captured[1].Content, "at most 3")
}

func TestLLMReranker_Pick_EmptyShortlistSkipsModel(t *testing.T) {
	called := false
	r := newTestReranker(&mockChatModel{
		streamFunc: func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			called = true
			return nil, errors.New("should not be called")
		},
	})

	sel, err := r.Pick(context.Background(), "a fox", false, nil, 5)

	require.NoError(t, err)
	assert.Empty(t, sel.ModelIDs)
	assert.False(t, called)
}

func TestParseSelection_SurroundingProse(t *testing.T) {
	parsed, err := parseSelection("Sure! Here is the ranking:\n{\"selections\": [\"a\"], \"reasoning\": \"r\"}\nHope that helps.")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, parsed.Selections)
	assert.Equal(t, "r", parsed.Reasoning)
}
