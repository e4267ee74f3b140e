package evaluator

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

func dims() []Dimension {
	return []Dimension{{Name: "correctness", Weight: 0.7}, {Name: "style", Weight: 0.3}}
}

func TestEvaluateAcceptsHighScore(t *testing.T) {
	provider := stubProvider{content: `{"dimension_scores":{"correctness":1.0,"style":1.0},"findings":[]}`}
	result := Evaluate(context.Background(), provider, "m", "task", "output", dims(), Config{AcceptThreshold: 0.8, RegressionThreshold: 0.2}, nil)
	require.Equal(t, domain.DecisionAccept, result.Decision)
	require.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestEvaluateIteratesMidScore(t *testing.T) {
	provider := stubProvider{content: `{"dimension_scores":{"correctness":0.6,"style":0.6},"findings":[]}`}
	result := Evaluate(context.Background(), provider, "m", "task", "output", dims(), Config{AcceptThreshold: 0.8, RegressionThreshold: 0.2}, nil)
	require.Equal(t, domain.DecisionIterate, result.Decision)
}

func TestEvaluateRejectsOnRegression(t *testing.T) {
	provider := stubProvider{content: `{"dimension_scores":{"correctness":0.3,"style":0.3},"findings":[]}`}
	best := 0.9
	result := Evaluate(context.Background(), provider, "m", "task", "output", dims(), Config{AcceptThreshold: 0.8, RegressionThreshold: 0.2}, &best)
	require.Equal(t, domain.DecisionReject, result.Decision)
}

func TestEvaluateDegradesOnMalformedResponse(t *testing.T) {
	provider := stubProvider{content: "not json at all"}
	result := Evaluate(context.Background(), provider, "m", "task", "output", dims(), Config{AcceptThreshold: 0.8, RegressionThreshold: 0.2}, nil)
	require.Equal(t, domain.DecisionIterate, result.Decision)
	require.Equal(t, 0.5, result.Score)
	require.Len(t, result.Findings, 1)
	require.Equal(t, domain.SeverityWarning, result.Findings[0].Severity)
}

func TestEvaluateDegradesOnProviderError(t *testing.T) {
	provider := stubProvider{err: context.DeadlineExceeded}
	result := Evaluate(context.Background(), provider, "m", "task", "output", dims(), Config{AcceptThreshold: 0.8, RegressionThreshold: 0.2}, nil)
	require.Equal(t, 0.5, result.Score)
}
