package api

import (
	"encoding/json"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/tools"
)

// ChatResponse is the body returned by POST /api/v1/chat.
type ChatResponse struct {
	ConversationID string             `json:"conversation_id"`
	ResponseText   string             `json:"response_text"`
	ToolUses       []agent.ToolCall   `json:"tool_uses,omitempty"`
	ToolResults    []agent.ToolResult `json:"tool_results,omitempty"`

	// Execution is set when the turn suspended on an approval gate.
	Execution *agent.PendingInfo `json:"execution,omitempty"`

	Usage agent.TokenUsage `json:"usage"`
}

func newChatResponse(res *agent.ChatResult) ChatResponse {
	return ChatResponse{
		ConversationID: res.ConversationID,
		ResponseText:   res.ResponseText,
		ToolUses:       res.ToolUses,
		ToolResults:    res.ToolResults,
		Execution:      res.Pending,
		Usage:          res.Usage,
	}
}

// ConversationResponse is the body of GET /api/v1/conversations/:id.
type ConversationResponse struct {
	ConversationID string       `json:"conversation_id"`
	Title          string       `json:"title"`
	Messages       []agent.Turn `json:"messages"`
}

// ToolResponse is one entry of GET /api/v1/tools.
type ToolResponse struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Class       string          `json:"class"`
	Schema      json.RawMessage `json:"schema"`
}

func newToolResponse(spec tools.ToolSpec) ToolResponse {
	return ToolResponse{
		Name:        spec.Name,
		Description: spec.Description,
		Class:       string(spec.Class),
		Schema:      spec.Schema,
	}
}

// ModelsResponse is the body of GET /api/v1/models.
type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}
