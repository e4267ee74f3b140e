// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llm.Provider contract. Grounded on intelligencedev-manifold's
// internal/llm/anthropic/client.go, thinned down: extended-thinking
// streaming and prompt-caching are dropped since no SPEC_FULL.md component
// exercises either — this adapter only needs chat, streaming text/tool
// deltas, and embeddings are not supported by Anthropic's API at all.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/llm"
	"github.com/iterflow/agent/internal/rerr"
)

const defaultMaxTokens int64 = 4096

func init() {
	llm.RegisterFactory("anthropic", func(cfg llm.Config, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Client implements llm.Provider over the Anthropic Messages API.
type Client struct {
	sdk    anthropicsdk.Client
	cfg    llm.Config
	logger *zap.Logger
}

func New(cfg llm.Config, logger *zap.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{
		sdk:    anthropicsdk.NewClient(opts...),
		cfg:    cfg,
		logger: logger.With(zap.String("provider", "anthropic")),
	}
}

func (c *Client) ID() string   { return "anthropic" }
func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Models() []domain.ModelInfo {
	out := make([]domain.ModelInfo, 0, len(c.cfg.Models))
	for _, m := range c.cfg.Models {
		out = append(out, domain.ModelInfo{ID: m, SupportsTools: true})
	}
	return out
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return domain.ChatResponse{}, rerr.New(rerr.KindBadRequest, err.Error())
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return domain.ChatResponse{}, rerr.Classify(err, c.ID(), req.Model)
	}

	return messageFromResponse(resp), nil
}

func (c *Client) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, rerr.New(rerr.KindBadRequest, err.Error())
	}

	out := make(chan domain.StreamChunk)
	stream := c.sdk.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		defer stream.Close()

		toolBuffers := map[int64]*toolBuffer{}
		var finalUsage anthropicsdk.Usage

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropicsdk.ContentBlockStartEvent:
				if block, ok := ev.ContentBlock.AsAny().(anthropicsdk.ToolUseBlock); ok {
					id := strings.TrimSpace(block.ID)
					if id == "" {
						id = fmt.Sprintf("call-%d", len(toolBuffers)+1)
					}
					tb := &toolBuffer{id: id, name: block.Name}
					tb.appendInitial(block.Input)
					toolBuffers[ev.Index] = tb
					out <- domain.StreamChunk{Kind: domain.ChunkToolCallDelta, ToolCallID: id, ToolCallName: block.Name}
				}
			case anthropicsdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropicsdk.TextDelta:
					if delta.Text != "" {
						out <- domain.StreamChunk{Kind: domain.ChunkTextDelta, TextDelta: delta.Text}
					}
				case anthropicsdk.InputJSONDelta:
					if tb := toolBuffers[ev.Index]; tb != nil {
						tb.appendPartial(delta.PartialJSON)
						out <- domain.StreamChunk{Kind: domain.ChunkToolCallDelta, ToolCallID: tb.id, ArgsDelta: delta.PartialJSON}
					}
				}
			case anthropicsdk.MessageDeltaEvent:
				finalUsage.OutputTokens = ev.Usage.OutputTokens
			}
		}

		if err := stream.Err(); err != nil {
			c.logger.Warn("anthropic stream ended with error", zap.Error(err))
			return
		}

		out <- domain.StreamChunk{
			Kind:       domain.ChunkUsage,
			Usage:      &domain.Usage{InputTokens: finalUsage.InputTokens, OutputTokens: finalUsage.OutputTokens},
			StopReason: domain.StopEndTurn,
		}
	}()

	return out, nil
}

// Embed is unsupported: Anthropic's API has no embeddings endpoint.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, rerr.New(rerr.KindOther, "anthropic provider does not support embeddings")
}

func (c *Client) buildParams(req domain.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	messages := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleUser, domain.RoleTool:
			messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		case domain.RoleAssistant:
			messages = append(messages, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		case domain.RoleSystem:
			// System messages are collected separately below.
		}
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	for _, t := range req.Tools {
		schema, _ := json.Marshal(t.Parameters)
		params.Tools = append(params.Tools, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{ExtraFields: map[string]any{"raw": json.RawMessage(schema)}},
			},
		})
	}
	return params, nil
}

func messageFromResponse(resp *anthropicsdk.Message) domain.ChatResponse {
	var content strings.Builder
	var toolCalls []domain.ToolCall

	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			content.WriteString(b.Text)
		case anthropicsdk.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			toolCalls = append(toolCalls, domain.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}

	return domain.ChatResponse{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage: domain.Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		},
		StopReason: stopReasonFromAnthropic(resp.StopReason),
	}
}

func stopReasonFromAnthropic(r anthropicsdk.StopReason) domain.StopReason {
	switch r {
	case anthropicsdk.StopReasonEndTurn:
		return domain.StopEndTurn
	case anthropicsdk.StopReasonMaxTokens:
		return domain.StopMaxTokens
	case anthropicsdk.StopReasonToolUse:
		return domain.StopToolUse
	case anthropicsdk.StopReasonStopSequence:
		return domain.StopStopSequence
	default:
		return domain.StopUnknown
	}
}

// toolBuffer reassembles a tool call's JSON arguments from streamed
// fragments keyed by content-block index, mirroring the teacher-adjacent
// reassembly pattern grounded on manifold's client.go.
type toolBuffer struct {
	id, name string
	buf      strings.Builder
}

func (t *toolBuffer) appendInitial(input json.RawMessage) {
	if len(input) > 0 && string(input) != "{}" {
		t.buf.Write(input)
	}
}

func (t *toolBuffer) appendPartial(fragment string) {
	t.buf.WriteString(fragment)
}

func (t *toolBuffer) toToolCall() domain.ToolCall {
	raw := t.buf.String()
	if raw == "" {
		raw = "{}"
	}
	return domain.ToolCall{ID: t.id, Name: t.name, Arguments: json.RawMessage(raw)}
}
