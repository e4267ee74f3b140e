package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/llm"
)

type stubProvider struct {
	id   string
	err  error
	resp domain.ChatResponse
}

func (s *stubProvider) ID() string                 { return s.id }
func (s *stubProvider) Name() string               { return s.id }
func (s *stubProvider) Models() []domain.ModelInfo { return nil }
func (s *stubProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if s.err != nil {
		return domain.ChatResponse{}, s.err
	}
	return s.resp, nil
}
func (s *stubProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	return nil, nil
}
func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, nil
}

func TestChainFallsBackOnFailure(t *testing.T) {
	bad := &stubProvider{id: "a", err: errors.New("503 service unavailable")}
	good := &stubProvider{id: "b", resp: domain.ChatResponse{Content: "ok"}}

	chain := New([]ModelRef{{ProviderID: "a", ModelID: "m1"}, {ProviderID: "b", ModelID: "m2"}},
		map[string]llm.Provider{"a": bad, "b": good}, time.Minute)

	resp, used, err := chain.Chat(context.Background(), domain.ChatRequest{}, time.Now())
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, "b", used.ProviderID)
}

func TestChainSkipsCooledDownCandidate(t *testing.T) {
	a := &stubProvider{id: "a", resp: domain.ChatResponse{Content: "from a"}}
	b := &stubProvider{id: "b", resp: domain.ChatResponse{Content: "from b"}}

	chain := New([]ModelRef{{ProviderID: "a", ModelID: "m1"}, {ProviderID: "b", ModelID: "m2"}},
		map[string]llm.Provider{"a": a, "b": b}, time.Minute)

	now := time.Now()
	chain.MarkFailed(ModelRef{ProviderID: "a", ModelID: "m1"}, now)

	resp, used, err := chain.Chat(context.Background(), domain.ChatRequest{}, now)
	require.NoError(t, err)
	require.Equal(t, "from b", resp.Content)
	require.Equal(t, "b", used.ProviderID)
}

func TestChainExhaustsAllCandidates(t *testing.T) {
	a := &stubProvider{id: "a", err: errors.New("502 bad gateway")}
	b := &stubProvider{id: "b", err: errors.New("503 unavailable")}

	chain := New([]ModelRef{{ProviderID: "a", ModelID: "m1"}, {ProviderID: "b", ModelID: "m2"}},
		map[string]llm.Provider{"a": a, "b": b}, time.Minute)

	_, _, err := chain.Chat(context.Background(), domain.ChatRequest{}, time.Now())
	require.Error(t, err)
}

func TestCooldownExpiresAfterWindow(t *testing.T) {
	a := &stubProvider{id: "a", resp: domain.ChatResponse{Content: "a"}}
	chain := New([]ModelRef{{ProviderID: "a", ModelID: "m1"}}, map[string]llm.Provider{"a": a}, time.Minute)

	now := time.Now()
	ref := ModelRef{ProviderID: "a", ModelID: "m1"}
	chain.MarkFailed(ref, now)
	require.False(t, chain.IsCooledDown(ref, now.Add(30*time.Second)))
	require.True(t, chain.IsCooledDown(ref, now.Add(2*time.Minute)))
}
