// Package e2e provides end-to-end test infrastructure for the full chat →
// gate → approval → audit pipeline.
package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/atlasops/atlas/pkg/agent"
)

// LLMScriptEntry defines a single scripted LLM response.
type LLMScriptEntry struct {
	// Response content (at most one of these is set).
	Text      string           // terminal text reply
	ToolCalls []agent.ToolCall // tool-use reply, with optional leading Text
	Error     error            // returned from Complete()
}

// ScriptedLLMClient implements agent.LLMClient by replaying a fixed
// sequence of completions. Calls within one scenario are deterministic, so
// sequential dispatch is enough.
type ScriptedLLMClient struct {
	mu             sync.Mutex
	entries        []LLMScriptEntry
	index          int
	capturedInputs []*agent.CompletionRequest
}

// NewScriptedLLMClient creates a new ScriptedLLMClient.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{}
}

// Add appends an entry consumed in call order.
func (c *ScriptedLLMClient) Add(entry LLMScriptEntry) *ScriptedLLMClient {
	c.entries = append(c.entries, entry)
	return c
}

// AddText appends a terminal text reply.
func (c *ScriptedLLMClient) AddText(text string) *ScriptedLLMClient {
	return c.Add(LLMScriptEntry{Text: text})
}

// AddToolCalls appends a tool-use reply.
func (c *ScriptedLLMClient) AddToolCalls(calls ...agent.ToolCall) *ScriptedLLMClient {
	return c.Add(LLMScriptEntry{ToolCalls: calls})
}

// Complete implements agent.LLMClient.
func (c *ScriptedLLMClient) Complete(_ context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturedInputs = append(c.capturedInputs, req)

	if c.index >= len(c.entries) {
		return nil, fmt.Errorf("ScriptedLLMClient: no more entries (%d consumed)", c.index)
	}
	entry := c.entries[c.index]
	c.index++

	if entry.Error != nil {
		return nil, entry.Error
	}

	resp := &agent.CompletionResponse{
		Text:       entry.Text,
		ToolCalls:  entry.ToolCalls,
		StopReason: "end_turn",
		Usage:      agent.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}
	if len(entry.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	}
	return resp, nil
}

// CallCount returns the total number of Complete() calls made.
func (c *ScriptedLLMClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.capturedInputs)
}

// LastInput returns the most recent captured request, or nil.
func (c *ScriptedLLMClient) LastInput() *agent.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.capturedInputs) == 0 {
		return nil
	}
	return c.capturedInputs[len(c.capturedInputs)-1]
}
