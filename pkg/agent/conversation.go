// Package agent provides the conversation model and the driver loop that
// turns LLM replies into gated, audited tool executions.
package agent

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ResultStatus is the outcome class of a single tool call.
type ResultStatus string

const (
	StatusOK               ResultStatus = "ok"
	StatusError            ResultStatus = "error"
	StatusApprovalRequired ResultStatus = "approval_required"
)

// ToolCall represents an LLM's request to invoke a tool.
// Params is the raw JSON parameter object as the LLM emitted it;
// validation against the tool's schema happens in the execution engine.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

// ToolResult is the outcome of a single tool call, correlated by call ID.
type ToolResult struct {
	CallID  string       `json:"call_id"`
	Name    string       `json:"name"`
	Status  ResultStatus `json:"status"`
	Content string       `json:"content"`

	// ExecutionID is set when Status is StatusApprovalRequired, and on the
	// real result that later replaces the synthetic one.
	ExecutionID string `json:"execution_id,omitempty"`

	// Notes carries non-blocking validation findings (error-indicator
	// substrings, empty payloads). Informational only.
	Notes []string `json:"validation_notes,omitempty"`
}

// Turn is one entry in a conversation: user text, assistant text and/or
// tool calls, or a single tool result.
type Turn struct {
	Role      Role        `json:"role"`
	Content   string      `json:"content,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	At        time.Time   `json:"at"`
}

// UserTurn builds a user turn.
func UserTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleUser, Content: text, At: at}
}

// AssistantTurn builds an assistant turn with optional tool calls.
func AssistantTurn(text string, calls []ToolCall, at time.Time) Turn {
	return Turn{Role: RoleAssistant, Content: text, ToolCalls: calls, At: at}
}

// ToolTurn builds a tool-result turn.
func ToolTurn(res ToolResult, at time.Time) Turn {
	return Turn{Role: RoleTool, Result: &res, At: at}
}

// Conversation is the persisted unit of state: an identifier, a derived
// title, and the append-only turn sequence.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation titled after the first
// user message.
func NewConversation(id, firstMessage string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Title:     DeriveTitle(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn and bumps the update timestamp.
func (c *Conversation) Append(t Turn) {
	c.Turns = append(c.Turns, t)
	if t.At.After(c.UpdatedAt) {
		c.UpdatedAt = t.At
	}
}

// UnresolvedApprovals returns the execution IDs of approval_required tool
// results that have not yet been replaced by a real outcome. Used on driver
// re-entry to reconcile decisions (or expiries) that happened while the
// conversation was idle.
func (c *Conversation) UnresolvedApprovals() []string {
	var ids []string
	for _, t := range c.Turns {
		if t.Role == RoleTool && t.Result != nil && t.Result.Status == StatusApprovalRequired {
			ids = append(ids, t.Result.ExecutionID)
		}
	}
	return ids
}

// ResolveApproval replaces the synthetic approval_required result for the
// given execution ID with the real result, in place. Returns false when no
// matching synthetic turn exists.
func (c *Conversation) ResolveApproval(executionID string, res ToolResult, at time.Time) bool {
	for i := range c.Turns {
		t := &c.Turns[i]
		if t.Role != RoleTool || t.Result == nil {
			continue
		}
		if t.Result.Status == StatusApprovalRequired && t.Result.ExecutionID == executionID {
			res.ExecutionID = executionID
			if res.CallID == "" {
				res.CallID = t.Result.CallID
			}
			if res.Name == "" {
				res.Name = t.Result.Name
			}
			t.Result = &res
			t.At = at
			if at.After(c.UpdatedAt) {
				c.UpdatedAt = at
			}
			return true
		}
	}
	return false
}

// maxTitleLen bounds derived conversation titles.
const maxTitleLen = 60

// DeriveTitle produces a short human-readable title from the first user
// message: single-line, truncated at a word boundary.
func DeriveTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" {
		return "New conversation"
	}
	if len(title) <= maxTitleLen {
		return title
	}
	cut := title[:maxTitleLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
