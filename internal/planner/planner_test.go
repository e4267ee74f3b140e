package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iterflow/agent/internal/domain"
)

type stubProvider struct {
	content string
	err     error
}

func (s stubProvider) ID() string                 { return "stub" }
func (s stubProvider) Name() string               { return "stub" }
func (s stubProvider) Models() []domain.ModelInfo { return nil }
func (s stubProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if s.err != nil {
		return domain.ChatResponse{}, s.err
	}
	return domain.ChatResponse{Content: s.content}, nil
}
func (s stubProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	return nil, nil
}
func (s stubProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) { return nil, nil }

func TestPlanParsesStructuredResponse(t *testing.T) {
	provider := stubProvider{content: `{"category":"code","estimated_iterations":3}`}
	plan := Plan(context.Background(), provider, "m", "refactor the parser", 10)
	require.Equal(t, "code", plan.Category)
	require.Equal(t, 3, plan.EstimatedIterations)
}

func TestPlanClampsToMaxIterations(t *testing.T) {
	provider := stubProvider{content: `{"category":"code","estimated_iterations":99}`}
	plan := Plan(context.Background(), provider, "m", "x", 5)
	require.Equal(t, 5, plan.EstimatedIterations)
}

func TestPlanFallsBackOnProviderError(t *testing.T) {
	provider := stubProvider{err: context.DeadlineExceeded}
	plan := Plan(context.Background(), provider, "m", "x", 5)
	require.Equal(t, "general", plan.Category)
	require.Equal(t, 5, plan.EstimatedIterations)
}

func TestPlanFallsBackOnMalformedResponse(t *testing.T) {
	provider := stubProvider{content: "nonsense"}
	plan := Plan(context.Background(), provider, "m", "x", 7)
	require.Equal(t, "general", plan.Category)
	require.Equal(t, 7, plan.EstimatedIterations)
}
