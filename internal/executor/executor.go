// Package executor implements spec.md §4.11's tool-calling round trip,
// grounded on the teacher's domain/service tool round-trip shape and the
// registry/dispatch-by-name idiom in domain/tool/tool.go, generalized to
// dispatch by name prefix (mcp__, integration::) and bounded-parallel
// execution of the tool calls within one round.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/llm"
	"github.com/iterflow/agent/internal/rerr"
	"github.com/iterflow/agent/internal/safety"
)

// Dispatcher executes one tool call and returns its result content.
// Implementations are registered by name prefix — "mcp__" for MCP
// servers, "integration::" for first-party integrations.
type Dispatcher interface {
	Dispatch(ctx context.Context, call domain.ToolCall) (string, error)
}

// Registry looks up a Dispatcher by the tool-call's name prefix.
type Registry struct {
	byPrefix map[string]Dispatcher
}

func NewRegistry() *Registry {
	return &Registry{byPrefix: make(map[string]Dispatcher)}
}

func (r *Registry) Register(prefix string, d Dispatcher) {
	r.byPrefix[prefix] = d
}

func (r *Registry) lookup(name string) (Dispatcher, bool) {
	for prefix, d := range r.byPrefix {
		if strings.HasPrefix(name, prefix) {
			return d, true
		}
	}
	return nil, false
}

// Result is the outcome of one tool-calling round trip.
type Result struct {
	Content        string
	ToolCallsMade  int
	AccumulatedUsage domain.Usage
}

// MaxParallelTools bounds how many tool calls within one round run
// concurrently.
const MaxParallelTools = 4

// Execute drives the round trip: send ctx to provider, dispatch any tool
// calls, append results, repeat until a terminal assistant turn. checker
// tracks the per-task tool-call counter against Safety's thresholds;
// hitting the circuit breaker returns a ToolLoop-kind error.
func Execute(ctx context.Context, provider llm.Provider, req domain.ChatRequest, registry *Registry, checker *safety.Checker) (Result, error) {
	messages := append([]domain.Message{}, req.Messages...)
	var result Result
	singleToolOnly := false

	for {
		currentReq := req
		currentReq.Messages = messages

		resp, err := provider.Chat(ctx, currentReq)
		if err != nil {
			return result, rerr.Classify(err, provider.ID(), req.Model)
		}
		result.AccumulatedUsage.InputTokens += resp.Usage.InputTokens
		result.AccumulatedUsage.OutputTokens += resp.Usage.OutputTokens
		result.AccumulatedUsage.CacheReadTokens += resp.Usage.CacheReadTokens
		result.AccumulatedUsage.CacheWriteTokens += resp.Usage.CacheWriteTokens

		if len(resp.ToolCalls) == 0 && resp.StopReason != domain.StopToolUse {
			result.Content = resp.Content
			return result, nil
		}

		calls := resp.ToolCalls
		if singleToolOnly && len(calls) > 1 {
			calls = calls[:1]
		}

		assistantMsg := domain.Message{Role: domain.RoleAssistant, Content: resp.Content, ToolCalls: calls}
		messages = append(messages, assistantMsg)

		toolMsgs, err := dispatchAll(ctx, registry, calls)
		if err != nil {
			return result, err
		}
		messages = append(messages, toolMsgs...)

		for _, call := range calls {
			result.ToolCallsMade++
			if checker == nil {
				continue
			}
			mode := checker.RecordToolCall()
			switch mode {
			case safety.ToolLoopCircuitBroken:
				return result, &rerr.RuntimeError{
					Kind:      rerr.KindToolLoop,
					Message:   fmt.Sprintf("tool-call circuit breaker tripped on %q", call.Name),
					ToolName:  call.Name,
					ToolCount: result.ToolCallsMade,
				}
			case safety.ToolLoopSingleToolOnly:
				singleToolOnly = true
			}
		}
	}
}

func dispatchAll(ctx context.Context, registry *Registry, calls []domain.ToolCall) ([]domain.Message, error) {
	sem := semaphore.NewWeighted(MaxParallelTools)
	results := make([]domain.Message, len(calls))
	done := make(chan struct{}, len(calls))

	for i, call := range calls {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(i int, call domain.ToolCall) {
			defer sem.Release(1)
			results[i] = dispatchOne(ctx, registry, call)
			done <- struct{}{}
		}(i, call)
	}

	for range calls {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

func dispatchOne(ctx context.Context, registry *Registry, call domain.ToolCall) domain.Message {
	dispatcher, ok := registry.lookup(call.Name)
	if !ok {
		return toolResultMessage(call.ID, errorResult(fmt.Sprintf("unknown tool: %s", call.Name)))
	}

	content, err := dispatcher.Dispatch(ctx, call)
	if err != nil {
		return toolResultMessage(call.ID, errorResult(err.Error()))
	}
	return toolResultMessage(call.ID, content)
}

func toolResultMessage(toolCallID, content string) domain.Message {
	return domain.Message{Role: domain.RoleTool, Content: content, ToolCallID: toolCallID}
}

func errorResult(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
