// Package engine routes tool calls from the conversation driver to their
// executors: catalog lookup, parameter validation, safe/dangerous gating,
// dispatch under a per-call timeout, result validation, and the audit
// trail. It implements agent.ToolExecutor.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/store"
	"github.com/atlasops/atlas/pkg/tools"
)

// DefaultCallTimeout bounds one tool dispatch unless the tool's spec
// declares its own budget.
const DefaultCallTimeout = 60 * time.Second

// Engine executes tool calls against the registry. Safe under concurrent
// use; calls within one conversation arrive sequentially from the driver.
type Engine struct {
	registry    *tools.Registry
	pendings    store.PendingStore
	audits      store.AuditStore
	callTimeout time.Duration
	pendingTTL  time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Config tunes the engine. Zero values fall back to the defaults.
type Config struct {
	CallTimeout time.Duration
	PendingTTL  time.Duration
}

// New wires the engine.
func New(cfg Config, registry *tools.Registry, pendings store.PendingStore, audits store.AuditStore, logger *slog.Logger) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = store.DefaultPendingTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:    registry,
		pendings:    pendings,
		audits:      audits,
		callTimeout: cfg.CallTimeout,
		pendingTTL:  cfg.PendingTTL,
		logger:      logger.With("component", "engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Definitions lists the catalog as LLM tool schemas.
func (e *Engine) Definitions() []agent.ToolDefinition {
	return e.registry.Definitions()
}

// Execute runs one tool call through the full pipeline. Tool-level
// failures come back as error-status results so the LLM can react;
// only infrastructure failures (pending store write) return a Go error.
func (e *Engine) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.Outcome, error) {
	requestedAt := e.now()
	executionID := uuid.NewString()
	call := req.Call

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		err := &agent.UnknownToolError{Name: call.Name}
		e.auditImmediate(ctx, executionID, req, store.AuditStatusError, "", requestedAt, err.Error())
		return errorOutcome(call, err.Error()), nil
	}

	if err := tool.ValidateParams(call.Params); err != nil {
		e.auditImmediate(ctx, executionID, req, store.AuditStatusError, "", requestedAt, err.Error())
		return errorOutcome(call, err.Error()), nil
	}

	if requiresApproval(req.Mode, tool.Spec.Class) {
		pending := &store.PendingExecution{
			ExecutionID:    executionID,
			ConversationID: req.ConversationID,
			CallID:         call.ID,
			Tool:           call.Name,
			Params:         call.Params,
			Classification: string(tool.Spec.Class),
			Mode:           string(req.Mode),
			Model:          req.Model,
			Status:         store.PendingStatusPending,
			CreatedAt:      requestedAt,
			ExpiresAt:      requestedAt.Add(e.pendingTTL),
		}
		if err := e.pendings.Create(ctx, pending); err != nil {
			return nil, fmt.Errorf("create pending execution: %w", err)
		}
		e.logger.Info("Execution suspended for approval",
			"execution_id", executionID,
			"tool", call.Name,
			"classification", tool.Spec.Class,
			"mode", req.Mode)
		return &agent.Outcome{
			Result: agent.ToolResult{
				CallID:      call.ID,
				Name:        call.Name,
				Status:      agent.StatusApprovalRequired,
				ExecutionID: executionID,
				Content: fmt.Sprintf(
					"This %s operation requires human approval before it runs (execution %s). Stop and tell the user what is pending.",
					tool.Spec.Class, executionID),
			},
			Pending: &agent.PendingInfo{
				ExecutionID:    executionID,
				ConversationID: req.ConversationID,
				Tool:           call.Name,
				Params:         call.Params,
				Classification: string(tool.Spec.Class),
				ExpiresAt:      pending.ExpiresAt,
			},
		}, nil
	}

	approver := ""
	if req.Mode == agent.ModeAuto && tool.Spec.Class == tools.ClassDangerous {
		approver = "auto"
	}

	result := e.dispatch(ctx, tool, call)
	result.ExecutionID = executionID

	status := store.AuditStatusSuccess
	if result.Status == agent.StatusError {
		status = store.AuditStatusError
	}
	completedAt := e.now()
	rec := &store.AuditRecord{
		ExecutionID:    executionID,
		ConversationID: req.ConversationID,
		Tool:           call.Name,
		Params:         call.Params,
		Approver:       approver,
		Status:         status,
		RequestedAt:    requestedAt,
		CompletedAt:    &completedAt,
		ResultBytes:    len(result.Content),
		ResultPreview:  store.Preview(result.Content),
	}
	if approver == "auto" {
		rec.DecidedAt = &requestedAt
	}
	e.audit(ctx, rec)

	e.logger.Info("Execution completed",
		"execution_id", executionID,
		"tool", call.Name,
		"status", result.Status,
		"result_bytes", len(result.Content))
	return &agent.Outcome{Result: result}, nil
}

// Dispatch runs an approved pending execution, bypassing the
// classification step, and writes its audit record. Called by the
// approval controller.
func (e *Engine) Dispatch(ctx context.Context, p *store.PendingExecution, approver string, decidedAt time.Time) agent.ToolResult {
	call := agent.ToolCall{ID: p.CallID, Name: p.Tool, Params: p.Params}

	var result agent.ToolResult
	tool, ok := e.registry.Get(p.Tool)
	if !ok {
		// The catalog changed between suspension and approval.
		result = agent.ToolResult{
			CallID:  p.CallID,
			Name:    p.Tool,
			Status:  agent.StatusError,
			Content: (&agent.UnknownToolError{Name: p.Tool}).Error(),
		}
	} else {
		result = e.dispatch(ctx, tool, call)
	}
	result.ExecutionID = p.ExecutionID

	status := store.AuditStatusSuccess
	if result.Status == agent.StatusError {
		status = store.AuditStatusError
	}
	completedAt := e.now()
	e.audit(ctx, &store.AuditRecord{
		ExecutionID:    p.ExecutionID,
		ConversationID: p.ConversationID,
		Tool:           p.Tool,
		Params:         p.Params,
		Approver:       approver,
		Status:         status,
		RequestedAt:    p.CreatedAt,
		DecidedAt:      &decidedAt,
		CompletedAt:    &completedAt,
		ResultBytes:    len(result.Content),
		ResultPreview:  store.Preview(result.Content),
	})

	e.logger.Info("Approved execution dispatched",
		"execution_id", p.ExecutionID,
		"tool", p.Tool,
		"status", result.Status)
	return result
}

// PendingStatus reports the reconciliation view of a suspended execution.
func (e *Engine) PendingStatus(ctx context.Context, executionID string) (*agent.PendingSnapshot, error) {
	p, err := e.pendings.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &agent.PendingSnapshot{Status: string(p.Status), Result: p.Result}, nil
}

// dispatch runs the handler under the per-call timeout and packages the
// outcome, including non-blocking validation notes.
func (e *Engine) dispatch(ctx context.Context, tool *tools.Tool, call agent.ToolCall) agent.ToolResult {
	timeout := tool.Spec.Timeout
	if timeout <= 0 {
		timeout = e.callTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := tool.Handler(callCtx, call.Params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil {
			err = &agent.TimeoutError{Tool: call.Name, Limit: timeout}
		}
		return agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  agent.StatusError,
			Content: err.Error(),
		}
	}

	content, err := renderPayload(payload)
	if err != nil {
		return agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  agent.StatusError,
			Content: fmt.Sprintf("tool %q returned an unserializable payload: %v", call.Name, err),
		}
	}

	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Status:  agent.StatusOK,
		Content: content,
		Notes:   ValidateResult(content),
	}
}

// auditImmediate records a call rejected before dispatch (unknown tool,
// bad params): requested and completed collapse to the same instant.
func (e *Engine) auditImmediate(ctx context.Context, executionID string, req agent.ExecuteRequest, status store.AuditStatus, approver string, at time.Time, detail string) {
	completedAt := at
	e.audit(ctx, &store.AuditRecord{
		ExecutionID:    executionID,
		ConversationID: req.ConversationID,
		Tool:           req.Call.Name,
		Params:         req.Call.Params,
		Approver:       approver,
		Status:         status,
		RequestedAt:    at,
		CompletedAt:    &completedAt,
		ResultBytes:    len(detail),
		ResultPreview:  store.Preview(detail),
	})
}

// audit writes one trail entry. Audit failures never fail the call; the
// result has already been produced.
func (e *Engine) audit(ctx context.Context, rec *store.AuditRecord) {
	if err := e.audits.Record(ctx, rec); err != nil {
		e.logger.Error("Audit write failed",
			"execution_id", rec.ExecutionID,
			"tool", rec.Tool,
			"error", err)
	}
}

func requiresApproval(mode agent.ApprovalMode, class tools.Classification) bool {
	switch mode {
	case agent.ModeAuto:
		return false
	case agent.ModeStrict:
		return true
	default:
		return class == tools.ClassDangerous
	}
}

func errorOutcome(call agent.ToolCall, detail string) *agent.Outcome {
	return &agent.Outcome{Result: agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Status:  agent.StatusError,
		Content: detail,
	}}
}

func renderPayload(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}
