// Package openai adapts github.com/openai/openai-go/v2 to the
// llm.Provider contract, grounded on intelligencedev-manifold's
// internal/llm/openai_client.go (message conversion, param construction)
// but built against the uniform chat contract instead of a free function.
package openai

import (
	"context"
	"encoding/json"
	"strings"

	openaisdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/llm"
	"github.com/iterflow/agent/internal/rerr"
)

const defaultMaxTokens = 4096

func init() {
	llm.RegisterFactory("openai", func(cfg llm.Config, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Client implements llm.Provider over the OpenAI Chat Completions API.
type Client struct {
	sdk    openaisdk.Client
	cfg    llm.Config
	logger *zap.Logger
}

func New(cfg llm.Config, logger *zap.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		sdk:    openaisdk.NewClient(opts...),
		cfg:    cfg,
		logger: logger.With(zap.String("provider", "openai")),
	}
}

func (c *Client) ID() string   { return "openai" }
func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Models() []domain.ModelInfo {
	out := make([]domain.ModelInfo, 0, len(c.cfg.Models))
	for _, m := range c.cfg.Models {
		out = append(out, domain.ModelInfo{ID: m, SupportsTools: true, SupportsEmbed: strings.Contains(m, "embedding")})
	}
	return out
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	params := c.buildParams(req)

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.ChatResponse{}, rerr.Classify(err, c.ID(), req.Model)
	}
	if len(resp.Choices) == 0 {
		return domain.ChatResponse{}, rerr.New(rerr.KindProvider, "openai returned no choices")
	}

	choice := resp.Choices[0]
	var toolCalls []domain.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return domain.ChatResponse{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: domain.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		StopReason: stopReasonFromFinishReason(choice.FinishReason),
	}, nil
}

func (c *Client) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	params := c.buildParams(req)
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan domain.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		toolNames := map[int64]string{}
		toolIDs := map[int64]string{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				out <- domain.StreamChunk{Kind: domain.ChunkTextDelta, TextDelta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				if tc.ID != "" {
					toolIDs[tc.Index] = tc.ID
				}
				if tc.Function.Name != "" {
					toolNames[tc.Index] = tc.Function.Name
				}
				out <- domain.StreamChunk{
					Kind:         domain.ChunkToolCallDelta,
					ToolCallID:   toolIDs[tc.Index],
					ToolCallName: toolNames[tc.Index],
					ArgsDelta:    tc.Function.Arguments,
				}
			}
		}

		if err := stream.Err(); err != nil {
			c.logger.Warn("openai stream ended with error", zap.Error(err))
			return
		}
		out <- domain.StreamChunk{Kind: domain.ChunkUsage, StopReason: domain.StopEndTurn}
	}()

	return out, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(c.embeddingModel()),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, rerr.Classify(err, c.ID(), c.embeddingModel())
	}
	out := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (c *Client) embeddingModel() string {
	for _, m := range c.cfg.Models {
		if strings.Contains(m, "embedding") {
			return m
		}
	}
	return "text-embedding-3-small"
}

func (c *Client) buildParams(req domain.ChatRequest) openaisdk.ChatCompletionNewParams {
	var messages []openaisdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			messages = append(messages, openaisdk.SystemMessage(m.Content))
		case domain.RoleUser:
			messages = append(messages, openaisdk.UserMessage(m.Content))
		case domain.RoleAssistant:
			messages = append(messages, openaisdk.AssistantMessage(m.Content))
		case domain.RoleTool:
			messages = append(messages, openaisdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    messages,
		MaxTokens:   param.NewOpt(int64(maxTokens)),
		Temperature: param.NewOpt(req.Temperature),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openaisdk.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: param.NewOpt(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}))
	}
	return params
}

func stopReasonFromFinishReason(r string) domain.StopReason {
	switch r {
	case "stop":
		return domain.StopEndTurn
	case "length":
		return domain.StopMaxTokens
	case "tool_calls":
		return domain.StopToolUse
	default:
		return domain.StopUnknown
	}
}
