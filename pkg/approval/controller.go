// Package approval owns the decision state machine for suspended
// executions: pending → approved | rejected | expired, terminal states
// monotonic. Approvals dispatch the stored call and re-enter the
// conversation loop; rejections and expiries feed an error result back so
// the LLM can react.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/store"
)

// Dispatcher runs an approved execution bypassing the classification
// check. Implemented by engine.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *store.PendingExecution, approver string, decidedAt time.Time) agent.ToolResult
}

// Resumer re-enters the conversation loop after a decision replaced the
// synthetic gate result. Implemented by agent.Driver.
type Resumer interface {
	Resume(ctx context.Context, req agent.ResumeRequest) (*agent.ChatResult, error)
}

// Decision is the outcome of one approve/reject action.
type Decision struct {
	ExecutionID string              `json:"execution_id"`
	Approved    bool                `json:"approved"`
	Status      store.PendingStatus `json:"status"`
	Result      agent.ToolResult    `json:"result"`

	// Chat is the resumed conversation result, nil when the resume was
	// deferred (busy conversation) or when this is an idempotent replay.
	Chat *agent.ChatResult `json:"chat,omitempty"`
}

// Controller serialises decisions per execution through the pending
// store's compare-and-set transitions.
type Controller struct {
	pendings   store.PendingStore
	audits     store.AuditStore
	dispatcher Dispatcher
	resumer    Resumer
	logger     *slog.Logger
	now        func() time.Time
}

// NewController wires the approval state machine.
func NewController(pendings store.PendingStore, audits store.AuditStore, dispatcher Dispatcher, resumer Resumer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		pendings:   pendings,
		audits:     audits,
		dispatcher: dispatcher,
		resumer:    resumer,
		logger:     logger.With("component", "approval"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Decide applies a decision to a pending execution. Re-sending the same
// decision after it landed is a no-op returning the original result; any
// decision against another terminal state fails with ErrAlreadyDecided.
func (c *Controller) Decide(ctx context.Context, executionID string, approved bool) (*Decision, error) {
	to := store.PendingStatusRejected
	if approved {
		to = store.PendingStatusApproved
	}
	decidedAt := c.now()

	p, err := c.pendings.Transition(ctx, executionID, to, decidedAt)
	if errors.Is(err, agent.ErrAlreadyDecided) {
		return c.replay(ctx, executionID, approved)
	}
	if err != nil {
		return nil, err
	}

	if approved {
		return c.approve(ctx, p, decidedAt)
	}
	return c.reject(ctx, p, decidedAt)
}

func (c *Controller) approve(ctx context.Context, p *store.PendingExecution, decidedAt time.Time) (*Decision, error) {
	result := c.dispatcher.Dispatch(ctx, p, "user", decidedAt)
	if err := c.pendings.AttachResult(ctx, p.ExecutionID, result); err != nil {
		c.logger.Warn("Could not attach result to pending record",
			"execution_id", p.ExecutionID, "error", err)
	}

	c.logger.Info("Execution approved",
		"execution_id", p.ExecutionID,
		"tool", p.Tool,
		"status", result.Status)

	return &Decision{
		ExecutionID: p.ExecutionID,
		Approved:    true,
		Status:      store.PendingStatusApproved,
		Result:      result,
		Chat:        c.resume(ctx, p, result),
	}, nil
}

func (c *Controller) reject(ctx context.Context, p *store.PendingExecution, decidedAt time.Time) (*Decision, error) {
	result := agent.ToolResult{
		CallID:      p.CallID,
		Name:        p.Tool,
		Status:      agent.StatusError,
		ExecutionID: p.ExecutionID,
		Content:     "operation rejected by the user (reason=user_rejected)",
	}
	if err := c.pendings.AttachResult(ctx, p.ExecutionID, result); err != nil {
		c.logger.Warn("Could not attach result to pending record",
			"execution_id", p.ExecutionID, "error", err)
	}

	c.audit(ctx, p, store.AuditStatusRejected, "user", decidedAt)

	c.logger.Info("Execution rejected",
		"execution_id", p.ExecutionID,
		"tool", p.Tool)

	return &Decision{
		ExecutionID: p.ExecutionID,
		Approved:    false,
		Status:      store.PendingStatusRejected,
		Result:      result,
		Chat:        c.resume(ctx, p, result),
	}, nil
}

// replay handles a decision against an already-terminal record: the same
// decision is idempotent, anything else is a conflict.
func (c *Controller) replay(ctx context.Context, executionID string, approved bool) (*Decision, error) {
	p, err := c.pendings.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Status == store.PendingStatusApproved && approved,
		p.Status == store.PendingStatusRejected && !approved:
		d := &Decision{
			ExecutionID: executionID,
			Approved:    approved,
			Status:      p.Status,
		}
		if p.Result != nil {
			d.Result = *p.Result
		}
		return d, nil
	}
	return nil, fmt.Errorf("pending %s is %s: %w", executionID, p.Status, agent.ErrAlreadyDecided)
}

// resume re-enters the driver loop with the real result in place of the
// synthetic gate. A busy conversation is not an error: the decision is
// durable and the driver reconciles it on its next entry.
func (c *Controller) resume(ctx context.Context, p *store.PendingExecution, result agent.ToolResult) *agent.ChatResult {
	chat, err := c.resumer.Resume(ctx, agent.ResumeRequest{
		ConversationID: p.ConversationID,
		ExecutionID:    p.ExecutionID,
		Result:         result,
		Model:          p.Model,
		Mode:           agent.ApprovalMode(p.Mode),
	})
	if err != nil {
		c.logger.Warn("Conversation resume deferred",
			"conversation_id", p.ConversationID,
			"execution_id", p.ExecutionID,
			"error", err)
		return nil
	}
	return chat
}

func (c *Controller) audit(ctx context.Context, p *store.PendingExecution, status store.AuditStatus, approver string, decidedAt time.Time) {
	rec := &store.AuditRecord{
		ExecutionID:    p.ExecutionID,
		ConversationID: p.ConversationID,
		Tool:           p.Tool,
		Params:         p.Params,
		Approver:       approver,
		Status:         status,
		RequestedAt:    p.CreatedAt,
		DecidedAt:      &decidedAt,
	}
	if err := c.audits.Record(ctx, rec); err != nil {
		c.logger.Error("Audit write failed",
			"execution_id", p.ExecutionID, "error", err)
	}
}
