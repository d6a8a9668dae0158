package agent

import (
	"context"
	"encoding/json"
)

// LLMClient is the interface to the language model. Implemented by
// llm.AnthropicClient; defined here so the driver can be tested with a
// scripted client.
type LLMClient interface {
	// Complete sends the conversation and tool schemas, returning the
	// model's reply: text, tool calls, or both.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is one LLM invocation.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []Turn
	Tools    []ToolDefinition // nil = no tools offered
}

// CompletionResponse is the model's reply for one invocation.
type CompletionResponse struct {
	// Text is the assistant's prose, possibly empty when the reply is
	// tool calls only.
	Text string

	// ToolCalls are the structured tool-use blocks, in emitted order.
	// Empty means the reply is terminal.
	ToolCalls []ToolCall

	StopReason string
	Usage      TokenUsage
}

// ToolDefinition describes a tool offered to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	// Schema is the JSON Schema for the tool's parameter object.
	Schema json.RawMessage
}

// TokenUsage aggregates token consumption across LLM calls in one turn.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates usage from a single response.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
