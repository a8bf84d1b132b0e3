package forge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"falforge/internal/domain"
	"falforge/internal/infra/schema"
)

type stubSynth struct {
	mu        sync.Mutex
	calls     map[string]int
	failTimes map[string]int
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *stubSynth) Synthesize(_ context.Context, endpointID string) (*domain.ToolDefinition, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxInFlight.Load()
		if cur <= prev || s.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[endpointID]++
	shouldFail := false
	if s.failTimes[endpointID] > 0 {
		s.failTimes[endpointID]--
		shouldFail = true
	}
	s.mu.Unlock()

	if shouldFail {
		return nil, errors.New("synthesis blew up")
	}
	return stubTool(endpointID), nil
}

func (s *stubSynth) callCount(endpointID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpointID]
}

func stubTool(endpointID string) *domain.ToolDefinition {
	validator := schema.NewCompiler(zap.NewNop()).Compile(endpointID, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string"},
			"steps":  map[string]any{"type": "integer", "default": float64(4)},
		},
		"required": []any{"prompt"},
	})
	return &domain.ToolDefinition{
		Name:        domain.DeriveToolName(endpointID),
		EndpointID:  endpointID,
		Description: "stub tool for " + endpointID,
		Validator:   validator,
		Execute: func(_ context.Context, args map[string]any) (domain.ExecutionResult, error) {
			return domain.ExecutionResult{
				Status:     domain.ExecutionSubmitted,
				EndpointID: endpointID,
				RequestID:  "req-" + endpointID,
			}, nil
		},
	}
}

func newTestRegistry(synth ToolSynthesizer, opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return NewRegistry(synth, opts)
}

func TestRegistry_Generate_Idempotent(t *testing.T) {
	synth := &stubSynth{}
	reg := newTestRegistry(synth, RegistryOptions{})

	first, err := reg.Generate(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)
	second, err := reg.Generate(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)

	assert.Same(t, first, second, "repeat generation returns the registered tool")
	assert.Equal(t, 1, synth.callCount("fal-ai/flux/dev"))
	assert.True(t, reg.HasTool("fal-ai/flux/dev"))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Generate_ConcurrentCallsShareOneSynthesis(t *testing.T) {
	synth := &stubSynth{delay: 30 * time.Millisecond}
	reg := newTestRegistry(synth, RegistryOptions{})

	const callers = 10
	start := make(chan struct{})
	tools := make([]*domain.ToolDefinition, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tools[i], errs[i] = reg.Generate(context.Background(), "fal-ai/flux/dev")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, tools[0], tools[i])
	}
	assert.Equal(t, 1, synth.callCount("fal-ai/flux/dev"), "in-flight callers share one synthesis")
}

func TestRegistry_Generate_FailureIsNotCached(t *testing.T) {
	synth := &stubSynth{failTimes: map[string]int{"fal-ai/flaky": 1}}
	reg := newTestRegistry(synth, RegistryOptions{})

	_, err := reg.Generate(context.Background(), "fal-ai/flaky")
	require.Error(t, err)
	assert.False(t, reg.HasTool("fal-ai/flaky"))

	tool, err := reg.Generate(context.Background(), "fal-ai/flaky")
	require.NoError(t, err)
	assert.Equal(t, "fal-ai/flaky", tool.EndpointID)
	assert.Equal(t, 2, synth.callCount("fal-ai/flaky"))
}

func TestRegistry_GenerateAll_PerEndpointOutcomes(t *testing.T) {
	synth := &stubSynth{failTimes: map[string]int{"fal-ai/broken": 1}}
	reg := newTestRegistry(synth, RegistryOptions{})

	outcomes := reg.GenerateAll(context.Background(),
		[]string{"fal-ai/flux/dev", "fal-ai/broken", "fal-ai/recraft/v3"})

	require.Len(t, outcomes, 3)
	assert.Equal(t, "fal-ai/flux/dev", outcomes[0].EndpointID)
	require.NoError(t, outcomes[0].Err)
	assert.NotNil(t, outcomes[0].Tool)

	assert.Equal(t, "fal-ai/broken", outcomes[1].EndpointID)
	require.Error(t, outcomes[1].Err)
	assert.Nil(t, outcomes[1].Tool)

	assert.Equal(t, "fal-ai/recraft/v3", outcomes[2].EndpointID)
	require.NoError(t, outcomes[2].Err)

	assert.Equal(t, 2, reg.Count(), "the failed endpoint never registers")
	assert.False(t, reg.HasTool("fal-ai/broken"))
}

func TestRegistry_GenerateAll_BoundsConcurrency(t *testing.T) {
	synth := &stubSynth{delay: 20 * time.Millisecond}
	reg := newTestRegistry(synth, RegistryOptions{GenerateLimit: 2})

	ids := []string{"a/one", "a/two", "a/three", "a/four", "a/five", "a/six", "a/seven", "a/eight"}
	outcomes := reg.GenerateAll(context.Background(), ids)

	require.Len(t, outcomes, len(ids))
	for _, outcome := range outcomes {
		require.NoError(t, outcome.Err)
	}
	assert.LessOrEqual(t, synth.maxInFlight.Load(), int32(2))
}

func TestRegistry_GenerateAll_DeduplicatesRepeatedIDs(t *testing.T) {
	synth := &stubSynth{delay: 10 * time.Millisecond}
	reg := newTestRegistry(synth, RegistryOptions{})

	outcomes := reg.GenerateAll(context.Background(),
		[]string{"fal-ai/flux/dev", "fal-ai/flux/dev", "fal-ai/flux/dev"})

	require.Len(t, outcomes, 3)
	for _, outcome := range outcomes {
		require.NoError(t, outcome.Err)
		assert.Same(t, outcomes[0].Tool, outcome.Tool)
	}
	assert.Equal(t, 1, synth.callCount("fal-ai/flux/dev"))
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	reg := newTestRegistry(&stubSynth{}, RegistryOptions{})

	_, err := reg.Execute(context.Background(), "fal_ai_flux_dev", map[string]any{"prompt": "x"})

	assert.ErrorIs(t, err, domain.ErrToolNotGenerated)
}

func TestRegistry_Execute_ValidatesThenInvokes(t *testing.T) {
	reg := newTestRegistry(&stubSynth{}, RegistryOptions{})
	_, err := reg.Generate(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)

	_, err = reg.Execute(context.Background(), "fal_ai_flux_dev", map[string]any{"steps": float64(8)})
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr, "missing required prompt is rejected before dispatch")

	result, err := reg.Execute(context.Background(), "fal_ai_flux_dev", map[string]any{"prompt": "a fox"})
	require.NoError(t, err)
	assert.Equal(t, "fal-ai/flux/dev", result.EndpointID)
	assert.Equal(t, domain.ExecutionSubmitted, result.Status)
}

func TestRegistry_Execute_AcceptsEndpointID(t *testing.T) {
	reg := newTestRegistry(&stubSynth{}, RegistryOptions{})
	_, err := reg.Generate(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)

	result, err := reg.Execute(context.Background(), "fal-ai/flux/dev", map[string]any{"prompt": "a fox"})

	require.NoError(t, err)
	assert.Equal(t, "req-fal-ai/flux/dev", result.RequestID)
}

func TestRegistry_Tools_SortedByName(t *testing.T) {
	reg := newTestRegistry(&stubSynth{}, RegistryOptions{})
	for _, id := range []string{"fal-ai/zeta", "fal-ai/alpha", "fal-ai/mid"} {
		_, err := reg.Generate(context.Background(), id)
		require.NoError(t, err)
	}

	tools := reg.Tools()

	require.Len(t, tools, 3)
	assert.Equal(t, "fal_ai_alpha", tools[0].Name)
	assert.Equal(t, "fal_ai_mid", tools[1].Name)
	assert.Equal(t, "fal_ai_zeta", tools[2].Name)
}

func TestRegistry_Description(t *testing.T) {
	reg := newTestRegistry(&stubSynth{}, RegistryOptions{})
	_, err := reg.Generate(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)

	desc, ok := reg.Description("fal-ai/flux/dev")
	require.True(t, ok)
	assert.Equal(t, "stub tool for fal-ai/flux/dev", desc)

	_, ok = reg.Description("fal-ai/none")
	assert.False(t, ok)
}
