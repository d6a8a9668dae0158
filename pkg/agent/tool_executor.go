package agent

import (
	"context"
	"encoding/json"
	"time"
)

// ApprovalMode governs when tool calls suspend for human decision.
type ApprovalMode string

const (
	// ModeStrict suspends every call.
	ModeStrict ApprovalMode = "strict"
	// ModeNormal suspends dangerous calls only.
	ModeNormal ApprovalMode = "normal"
	// ModeAuto suspends nothing; dangerous calls are audited with
	// approver "auto".
	ModeAuto ApprovalMode = "auto"
)

// ValidApprovalMode reports whether s names a known mode.
func ValidApprovalMode(s string) bool {
	switch ApprovalMode(s) {
	case ModeStrict, ModeNormal, ModeAuto:
		return true
	}
	return false
}

// ToolExecutor runs a single tool call through lookup, validation,
// classification, gating, dispatch, result validation, and audit.
// Implemented by engine.Engine; the driver depends on this interface only.
type ToolExecutor interface {
	// Execute returns the outcome of one call. Tool-level failures
	// (unknown tool, bad params, executor errors, timeouts) come back as
	// error-status results, not Go errors; only infrastructure failures
	// (store unavailable) are returned as errors.
	Execute(ctx context.Context, req ExecuteRequest) (*Outcome, error)

	// Definitions lists the catalog as LLM tool schemas.
	Definitions() []ToolDefinition

	// PendingStatus reports the current state of a suspended execution so
	// the driver can reconcile decisions that happened while the
	// conversation was idle. Returns ErrNotFound for unknown or
	// garbage-collected executions.
	PendingStatus(ctx context.Context, executionID string) (*PendingSnapshot, error)
}

// ExecuteRequest carries one tool call into the engine. Model is recorded
// on suspension so a later approval resumes the loop with the same model.
type ExecuteRequest struct {
	ConversationID string
	Call           ToolCall
	Mode           ApprovalMode
	Model          string
}

// PendingSnapshot is the reconciliation view of a pending execution.
type PendingSnapshot struct {
	// Status is one of pending, approved, rejected, expired.
	Status string

	// Result is the dispatched outcome for approved executions, nil
	// while undecided or when the record predates dispatch completion.
	Result *ToolResult
}

// Outcome is the engine's answer for one tool call: a result to append to
// the conversation, plus pending details when the call suspended.
type Outcome struct {
	Result ToolResult

	// Pending is non-nil when the call suspended for approval.
	Pending *PendingInfo
}

// Suspended reports whether the call is awaiting an approval decision.
func (o *Outcome) Suspended() bool { return o.Pending != nil }

// PendingInfo is the driver-facing view of a suspended execution.
type PendingInfo struct {
	ExecutionID    string          `json:"execution_id"`
	ConversationID string          `json:"conversation_id"`
	Tool           string          `json:"tool"`
	Params         json.RawMessage `json:"params"`
	Classification string          `json:"classification"`
	ExpiresAt      time.Time       `json:"expires_at"`
}
