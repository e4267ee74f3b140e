package domain

import "encoding/json"

// Role is the speaker of a Message in a provider request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one model-issued tool invocation, fully reassembled from any
// streaming deltas before it reaches the Executor.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message is one turn in a provider chat request/response.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string     // set on RoleTool messages, echoes the ToolCall.ID being answered
	ToolCalls  []ToolCall // set on RoleAssistant messages that invoke tools
}

// StopReason explains why a provider stopped generating.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopMaxTokens     StopReason = "max_tokens"
	StopToolUse       StopReason = "tool_use"
	StopStopSequence  StopReason = "stop_sequence"
	StopUnknown       StopReason = "unknown"
)

// Usage reports token accounting for one provider call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// Total is the sum of input and output tokens, the figure accumulated
// against a Task's and Session's running totals.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// ToolDefinition describes one callable tool to the provider: its name,
// a description, and its parameters as a JSON Schema map.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is the uniform request shape across all provider adapters.
type ChatRequest struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the uniform response shape across all provider adapters.
type ChatResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason StopReason
}

// StreamChunkKind tags the payload carried by one StreamChunk.
type StreamChunkKind string

const (
	ChunkTextDelta     StreamChunkKind = "text_delta"
	ChunkToolCallDelta StreamChunkKind = "tool_call_delta"
	ChunkUsage         StreamChunkKind = "usage"
)

// StreamChunk is one element of a chat_stream sequence. Every fragment of a
// tool call carries its ToolCallID; ToolCallName is set on the first
// fragment (the OpenAI adapter repeats it on later ones), and the arguments
// arrive as ArgsDelta pieces.
type StreamChunk struct {
	Kind         StreamChunkKind
	TextDelta    string
	ToolCallID   string
	ToolCallName string
	ArgsDelta    string
	Usage        *Usage
	StopReason   StopReason
}

// ModelInfo describes one model a provider exposes.
type ModelInfo struct {
	ID             string
	SupportsEmbed  bool
	SupportsTools  bool
	ContextWindow  int
}
