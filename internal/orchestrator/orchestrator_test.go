package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/evaluator"
	"github.com/iterflow/agent/internal/executor"
	"github.com/iterflow/agent/internal/store"
)

// fakeProvider dispatches a canned answer depending on which internal
// caller's System prompt it sees — the planner, the evaluator, or the
// bare executor round trip — the same way a single scripted provider
// plays three roles across one RunTask call.
type fakeProvider struct {
	planCategory   string
	planIterations int

	toolCallRounds int // number of rounds that return a tool call before finishing
	finalContent   string

	evalResponses []string
	evalCall      int
}

func (p *fakeProvider) ID() string                 { return "fake" }
func (p *fakeProvider) Name() string               { return "fake" }
func (p *fakeProvider) Models() []domain.ModelInfo { return nil }
func (p *fakeProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	return nil, nil
}
func (p *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) { return nil, nil }

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	switch {
	case strings.Contains(req.System, "task planner"):
		b, _ := json.Marshal(map[string]any{"category": p.planCategory, "estimated_iterations": p.planIterations})
		return domain.ChatResponse{Content: string(b)}, nil
	case strings.Contains(req.System, "evaluation rubric"):
		idx := p.evalCall
		if idx >= len(p.evalResponses) {
			idx = len(p.evalResponses) - 1
		}
		p.evalCall++
		return domain.ChatResponse{Content: p.evalResponses[idx]}, nil
	default:
		if p.toolCallRounds > 0 {
			p.toolCallRounds--
			return domain.ChatResponse{
				ToolCalls:  []domain.ToolCall{{ID: "1", Name: "mcp__noop", Arguments: json.RawMessage(`{}`)}},
				StopReason: domain.StopToolUse,
			}, nil
		}
		return domain.ChatResponse{Content: p.finalContent, StopReason: domain.StopEndTurn}, nil
	}
}

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, call domain.ToolCall) (string, error) {
	return `{"ok":true}`, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Model = "fake-model"
	cfg.Dimensions = []evaluator.Dimension{{Name: "correctness", Weight: 1.0}}
	return cfg
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir+"/test.db", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunTaskSinglePassAccept(t *testing.T) {
	s := newTestStore(t)
	provider := &fakeProvider{
		planCategory: "refactor", planIterations: 3,
		finalContent:  "the refactored output",
		evalResponses: []string{`{"dimension_scores":{"correctness":0.95},"findings":[]}`},
	}
	registry := executor.NewRegistry()
	o := New(s, provider, registry, nil, zap.NewNop())

	var events []domain.ProgressEvent
	o.Subscribe(func(e domain.ProgressEvent) { events = append(events, e) })

	task, err := o.RunTask(context.Background(), "refactor the widget", testConfig())
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, task.Decision)
	require.Equal(t, 1, task.Iterations)
	require.NotNil(t, task.FinalScore)
	require.InDelta(t, 0.95, *task.FinalScore, 1e-9)

	require.Equal(t, domain.EventPlanReady, events[0].Type)
	require.Equal(t, domain.EventComplete, events[len(events)-1].Type)
}

func TestRunTaskToolLoopCircuitBreaker(t *testing.T) {
	s := newTestStore(t)
	provider := &fakeProvider{
		planCategory: "general", planIterations: 1,
		toolCallRounds: 1000, // never finishes on its own
	}
	registry := executor.NewRegistry()
	registry.Register("mcp__", echoDispatcher{})
	o := New(s, provider, registry, nil, zap.NewNop())

	var sawSafetyWarning bool
	o.Subscribe(func(e domain.ProgressEvent) {
		if e.Type == domain.EventSafetyWarning {
			sawSafetyWarning = true
		}
	})

	task, err := o.RunTask(context.Background(), "loop forever", testConfig())
	require.NoError(t, err)
	require.True(t, sawSafetyWarning)
	require.Equal(t, domain.DecisionFail, task.Decision)
}

func TestRunTaskRejectsOnRegression(t *testing.T) {
	s := newTestStore(t)
	provider := &fakeProvider{
		planCategory: "general", planIterations: 3,
		finalContent: "output",
		evalResponses: []string{
			`{"dimension_scores":{"correctness":0.75},"findings":[]}`,
			`{"dimension_scores":{"correctness":0.2},"findings":[]}`,
		},
	}
	registry := executor.NewRegistry()
	o := New(s, provider, registry, nil, zap.NewNop())

	// the safety checker's own regression abort is disabled here so the
	// test isolates the evaluator's decide()-level reject, which fires
	// on the same threshold but one step earlier in the loop.
	cfg := testConfig()
	cfg.Safety.AbortOnRegression = false

	task, err := o.RunTask(context.Background(), "do something risky", cfg)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionReject, task.Decision)
	require.Equal(t, 2, task.Iterations)
}

func TestRunTaskExhaustsIterationsFallsBackToBest(t *testing.T) {
	s := newTestStore(t)
	cfg := testConfig()
	provider := &fakeProvider{
		planCategory: "general", planIterations: 2,
		finalContent: "mediocre output",
		evalResponses: []string{
			`{"dimension_scores":{"correctness":0.5},"findings":[]}`,
			`{"dimension_scores":{"correctness":0.55},"findings":[]}`,
		},
	}
	registry := executor.NewRegistry()
	o := New(s, provider, registry, nil, zap.NewNop())

	task, err := o.RunTask(context.Background(), "keep trying", cfg)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, task.Decision)
	require.Equal(t, 2, task.Iterations)
	require.InDelta(t, 0.55, *task.FinalScore, 1e-9)
}
