package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/rerr"
	"github.com/iterflow/agent/internal/safety"
)

type scriptedProvider struct {
	responses []domain.ChatResponse
	call      int
}

func (s *scriptedProvider) ID() string                 { return "stub" }
func (s *scriptedProvider) Name() string               { return "stub" }
func (s *scriptedProvider) Models() []domain.ModelInfo { return nil }
func (s *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	resp := s.responses[s.call]
	if s.call < len(s.responses)-1 {
		s.call++
	}
	return resp, nil
}
func (s *scriptedProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	return nil, nil
}
func (s *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, nil
}

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, call domain.ToolCall) (string, error) {
	return `{"ok": true}`, nil
}

func TestExecuteTerminatesWithoutToolCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []domain.ChatResponse{
		{Content: "final answer", StopReason: domain.StopEndTurn},
	}}
	registry := NewRegistry()

	result, err := Execute(context.Background(), provider, domain.ChatRequest{}, registry, nil)
	require.NoError(t, err)
	require.Equal(t, "final answer", result.Content)
	require.Equal(t, 0, result.ToolCallsMade)
}

func TestExecuteDispatchesKnownTool(t *testing.T) {
	provider := &scriptedProvider{responses: []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "1", Name: "mcp__search", Arguments: json.RawMessage(`{}`)}}, StopReason: domain.StopToolUse},
		{Content: "done", StopReason: domain.StopEndTurn},
	}}
	registry := NewRegistry()
	registry.Register("mcp__", echoDispatcher{})

	result, err := Execute(context.Background(), provider, domain.ChatRequest{}, registry, nil)
	require.NoError(t, err)
	require.Equal(t, "done", result.Content)
	require.Equal(t, 1, result.ToolCallsMade)
}

func TestExecuteSynthesizesUnknownToolError(t *testing.T) {
	provider := &scriptedProvider{responses: []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "1", Name: "nonexistent", Arguments: json.RawMessage(`{}`)}}, StopReason: domain.StopToolUse},
		{Content: "recovered", StopReason: domain.StopEndTurn},
	}}
	registry := NewRegistry()

	result, err := Execute(context.Background(), provider, domain.ChatRequest{}, registry, nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", result.Content)
}

func TestExecuteTripsCircuitBreaker(t *testing.T) {
	var responses []domain.ChatResponse
	for i := 0; i < 40; i++ {
		responses = append(responses, domain.ChatResponse{
			ToolCalls: []domain.ToolCall{{ID: "1", Name: "mcp__noop", Arguments: json.RawMessage(`{}`)}},
			StopReason: domain.StopToolUse,
		})
	}
	provider := &scriptedProvider{responses: responses}
	registry := NewRegistry()
	registry.Register("mcp__", echoDispatcher{})

	checker := safety.New(safety.Config{
		TokenBudget: 1 << 30, MaxCostUSD: 1 << 20, TimeoutSeconds: 3600,
		ToolLoop: safety.DefaultToolLoopThresholds(),
	}, time.Now())

	_, err := Execute(context.Background(), provider, domain.ChatRequest{}, registry, checker)
	require.Error(t, err)

	rt, ok := err.(*rerr.RuntimeError)
	require.True(t, ok)
	require.Equal(t, rerr.KindToolLoop, rt.Kind)
	require.Equal(t, "mcp__noop", rt.ToolName)
	require.Equal(t, safety.DefaultToolLoopThresholds().CircuitBreaker, rt.ToolCount)
}
