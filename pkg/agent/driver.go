package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxIterations caps LLM turns per user message.
const DefaultMaxIterations = 16

// DefaultTurnTimeout caps the wall clock for one user turn, covering every
// LLM call and tool execution it triggers.
const DefaultTurnTimeout = 300 * time.Second

// retryBackoff is the base delay before the single retry of an unreachable
// LLM endpoint. The actual delay adds up to retryJitter of randomness.
const (
	retryBackoff = 500 * time.Millisecond
	retryJitter  = 250 * time.Millisecond
)

// MemoryRecaller stores and recalls short summaries of past operations.
// Implemented by memory.Engine; optional — a nil recaller disables it.
type MemoryRecaller interface {
	Recall(ctx context.Context, query string, limit int) ([]string, error)
	Remember(ctx context.Context, category, text string) error
}

// DriverConfig tunes the conversation loop.
type DriverConfig struct {
	MaxIterations int
	TurnTimeout   time.Duration
	DefaultModel  string
	// AllowedModels is the model allow-list. The default model is always
	// accepted.
	AllowedModels []string
	DefaultMode   ApprovalMode
	RecallLimit   int
}

func (c *DriverConfig) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.DefaultMode == "" {
		c.DefaultMode = ModeNormal
	}
	if c.RecallLimit <= 0 {
		c.RecallLimit = 3
	}
}

// ChatRequest is one user message aimed at a new or existing conversation.
type ChatRequest struct {
	ConversationID string
	Message        string
	ApprovalMode   string // empty = configured default
	Model          string // empty = configured default
}

// ResumeRequest re-enters the loop after an approval decision. Result is
// the real outcome that replaces the synthetic approval_required turn.
type ResumeRequest struct {
	ConversationID string
	ExecutionID    string
	Result         ToolResult
	Model          string
	Mode           ApprovalMode
}

// ChatResult is what one driver entry returns to the caller.
type ChatResult struct {
	ConversationID string
	ResponseText   string
	ToolUses       []ToolCall
	ToolResults    []ToolResult
	// Pending is non-nil when the turn suspended on an approval gate.
	Pending *PendingInfo
	Usage   TokenUsage
}

// Driver owns the conversation-to-tool loop: it renders history to the LLM,
// extracts tool calls, routes them through the execution engine, re-injects
// results, and terminates on a text-only reply, an approval gate, the
// iteration cap, or the turn deadline.
type Driver struct {
	cfg           DriverConfig
	llm           LLMClient
	executor      ToolExecutor
	conversations ConversationStore
	memory        MemoryRecaller
	busy          *busyRegistry
	logger        *slog.Logger
}

// NewDriver wires the loop. memory may be nil.
func NewDriver(cfg DriverConfig, llm LLMClient, executor ToolExecutor, conversations ConversationStore, memory MemoryRecaller, logger *slog.Logger) *Driver {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:           cfg,
		llm:           llm,
		executor:      executor,
		conversations: conversations,
		memory:        memory,
		busy:          newBusyRegistry(),
		logger:        logger.With("component", "driver"),
	}
}

// Handle processes one user message. The conversation is persisted at each
// suspension point (approval gate, terminal reply, cap); infrastructure
// failures before the first checkpoint leave the stored conversation
// untouched, rolling the user message back.
func (d *Driver) Handle(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required: %w", ErrInvalidInput)
	}
	model, err := d.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	mode, err := d.resolveMode(req.ApprovalMode)
	if err != nil {
		return nil, err
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if !d.busy.acquire(conversationID) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrConversationBusy)
	}
	defer d.busy.release(conversationID)

	conv, err := d.loadOrCreate(ctx, conversationID, req.Message)
	if err != nil {
		return nil, err
	}

	result := &ChatResult{ConversationID: conversationID}
	d.reconcileApprovals(ctx, conv, result)

	conv.Append(UserTurn(req.Message, time.Now().UTC()))

	d.logger.Info("Turn started",
		"conversation_id", conversationID,
		"mode", mode,
		"model", model)

	return d.runLoop(ctx, conv, model, mode, req.Message, result)
}

// Resume re-enters the loop after an approval decision replaced the
// synthetic gate result. Called by the approval controller.
func (d *Driver) Resume(ctx context.Context, req ResumeRequest) (*ChatResult, error) {
	model, err := d.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	mode, err := d.resolveMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	if !d.busy.acquire(req.ConversationID) {
		return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, ErrConversationBusy)
	}
	defer d.busy.release(req.ConversationID)

	conv, err := d.conversations.Load(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", req.ConversationID, err)
	}
	if !conv.ResolveApproval(req.ExecutionID, req.Result, time.Now().UTC()) {
		return nil, fmt.Errorf("no suspended turn for execution %s: %w", req.ExecutionID, ErrNotFound)
	}

	result := &ChatResult{ConversationID: req.ConversationID}
	result.ToolResults = append(result.ToolResults, req.Result)
	d.reconcileApprovals(ctx, conv, result)

	d.logger.Info("Turn resumed",
		"conversation_id", req.ConversationID,
		"execution_id", req.ExecutionID,
		"status", req.Result.Status)

	return d.runLoop(ctx, conv, model, mode, lastUserMessage(conv), result)
}

// runLoop is the iteration loop shared by Handle and Resume. It mutates
// conv in memory and persists it at gate, terminal, and cap checkpoints.
func (d *Driver) runLoop(ctx context.Context, conv *Conversation, model string, mode ApprovalMode, userText string, result *ChatResult) (*ChatResult, error) {
	turnCtx, cancel := context.WithTimeout(ctx, d.cfg.TurnTimeout)
	defer cancel()

	system := buildSystemPrompt(d.recall(turnCtx, userText))
	tools := d.executor.Definitions()

	for iteration := 0; iteration < d.cfg.MaxIterations; iteration++ {
		resp, err := d.completeWithRetry(turnCtx, &CompletionRequest{
			Model:    model,
			System:   system,
			Messages: conv.Turns,
			Tools:    tools,
		})
		if err != nil {
			if turnCtx.Err() != nil && ctx.Err() == nil {
				return d.capReached(ctx, conv, result, "turn deadline exceeded")
			}
			return nil, err
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			conv.Append(AssistantTurn(resp.Text, nil, time.Now().UTC()))
			if err := d.conversations.Save(ctx, conv); err != nil {
				return nil, fmt.Errorf("save conversation: %w", err)
			}
			result.ResponseText = resp.Text
			d.remember(ctx, conv, userText, resp.Text)
			d.logger.Info("Turn completed",
				"conversation_id", conv.ID,
				"iterations", iteration+1,
				"tool_calls", len(result.ToolUses))
			return result, nil
		}

		conv.Append(AssistantTurn(resp.Text, resp.ToolCalls, time.Now().UTC()))
		result.ToolUses = append(result.ToolUses, resp.ToolCalls...)

		for idx, call := range resp.ToolCalls {
			if turnCtx.Err() != nil && ctx.Err() == nil {
				d.skipRemaining(conv, result, resp.ToolCalls[idx:], "turn deadline exceeded before this call ran")
				return d.capReached(ctx, conv, result, "turn deadline exceeded")
			}

			outcome, err := d.executor.Execute(turnCtx, ExecuteRequest{
				ConversationID: conv.ID,
				Call:           call,
				Mode:           mode,
				Model:          model,
			})
			if err != nil {
				return nil, fmt.Errorf("execute %s: %w", call.Name, err)
			}

			conv.Append(ToolTurn(outcome.Result, time.Now().UTC()))
			result.ToolResults = append(result.ToolResults, outcome.Result)

			if outcome.Suspended() {
				// The gate halts the batch: remaining calls are not
				// executed, but each still gets a result turn so no
				// call dangles without one.
				d.skipRemaining(conv, result, resp.ToolCalls[idx+1:], "not executed: an earlier call in this batch is awaiting approval")
				if err := d.conversations.Save(ctx, conv); err != nil {
					return nil, fmt.Errorf("save conversation at approval gate: %w", err)
				}
				result.Pending = outcome.Pending
				result.ResponseText = resp.Text
				d.logger.Info("Turn suspended",
					"conversation_id", conv.ID,
					"execution_id", outcome.Pending.ExecutionID,
					"tool", outcome.Pending.Tool)
				return result, nil
			}
		}
	}

	return d.capReached(ctx, conv, result, fmt.Sprintf("iteration cap (%d) reached", d.cfg.MaxIterations))
}

// capReached appends the synthetic assistant turn, persists, and returns a
// normal result. Reached on the 16-iteration cap and on the 300 s turn
// deadline.
func (d *Driver) capReached(ctx context.Context, conv *Conversation, result *ChatResult, reason string) (*ChatResult, error) {
	conv.Append(AssistantTurn(capReachedMessage, nil, time.Now().UTC()))
	if err := d.conversations.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation at cap: %w", err)
	}
	result.ResponseText = capReachedMessage
	d.logger.Warn("Turn capped", "conversation_id", conv.ID, "reason", reason)
	return result, nil
}

// skipRemaining appends error results for tool calls that will not run this
// turn, so every emitted call still pairs with exactly one result.
func (d *Driver) skipRemaining(conv *Conversation, result *ChatResult, calls []ToolCall, reason string) {
	for _, call := range calls {
		res := ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  StatusError,
			Content: reason,
		}
		conv.Append(ToolTurn(res, time.Now().UTC()))
		result.ToolResults = append(result.ToolResults, res)
	}
}

// completeWithRetry calls the LLM, retrying once with jittered backoff when
// the endpoint is unreachable.
func (d *Driver) completeWithRetry(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := d.llm.Complete(ctx, req)
	if err == nil || !IsUnreachable(err) {
		return resp, err
	}

	delay := retryBackoff + rand.N(retryJitter)
	d.logger.Warn("LLM unreachable, retrying", "delay", delay, "error", err)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, err
	}
	return d.llm.Complete(ctx, req)
}

// reconcileApprovals resolves synthetic approval_required results whose
// pending executions reached a terminal state while the conversation was
// idle. Expiry is the common case; rejected/approved leftovers only occur
// when a resume was interrupted.
func (d *Driver) reconcileApprovals(ctx context.Context, conv *Conversation, result *ChatResult) {
	for _, executionID := range conv.UnresolvedApprovals() {
		snap, err := d.executor.PendingStatus(ctx, executionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				d.resolveStale(conv, result, executionID, "approval request expired before a decision was made (reason=expired)")
			} else {
				d.logger.Warn("Pending lookup failed during reconcile",
					"execution_id", executionID, "error", err)
			}
			continue
		}
		switch snap.Status {
		case "expired":
			d.resolveStale(conv, result, executionID, "approval request expired before a decision was made (reason=expired)")
		case "rejected":
			d.resolveStale(conv, result, executionID, "operation rejected by the user (reason=user_rejected)")
		case "approved":
			if snap.Result != nil {
				res := *snap.Result
				if conv.ResolveApproval(executionID, res, time.Now().UTC()) {
					result.ToolResults = append(result.ToolResults, res)
				}
			}
		}
	}
}

func (d *Driver) resolveStale(conv *Conversation, result *ChatResult, executionID, content string) {
	res := ToolResult{
		Status:  StatusError,
		Content: content,
	}
	if conv.ResolveApproval(executionID, res, time.Now().UTC()) {
		if resolved := findResult(conv, executionID); resolved != nil {
			result.ToolResults = append(result.ToolResults, *resolved)
		}
	}
}

// findResult returns the resolved result for an execution ID, carrying the
// call correlation fields ResolveApproval preserved.
func findResult(conv *Conversation, executionID string) *ToolResult {
	for i := range conv.Turns {
		t := conv.Turns[i]
		if t.Role == RoleTool && t.Result != nil && t.Result.ExecutionID == executionID {
			return t.Result
		}
	}
	return nil
}

func (d *Driver) loadOrCreate(ctx context.Context, id, firstMessage string) (*Conversation, error) {
	conv, err := d.conversations.Load(ctx, id)
	if err == nil {
		return conv, nil
	}
	if errors.Is(err, ErrNotFound) {
		return NewConversation(id, firstMessage, time.Now().UTC()), nil
	}
	return nil, fmt.Errorf("load conversation %s: %w", id, err)
}

func (d *Driver) resolveModel(requested string) (string, error) {
	if requested == "" || requested == d.cfg.DefaultModel {
		return d.cfg.DefaultModel, nil
	}
	if slices.Contains(d.cfg.AllowedModels, requested) {
		return requested, nil
	}
	return "", fmt.Errorf("model %q: %w", requested, ErrBadModel)
}

func (d *Driver) resolveMode(requested string) (ApprovalMode, error) {
	if requested == "" {
		return d.cfg.DefaultMode, nil
	}
	if !ValidApprovalMode(requested) {
		return "", fmt.Errorf("approval mode %q: %w", requested, ErrInvalidInput)
	}
	return ApprovalMode(requested), nil
}

func (d *Driver) recall(ctx context.Context, query string) []string {
	if d.memory == nil {
		return nil
	}
	recalled, err := d.memory.Recall(ctx, query, d.cfg.RecallLimit)
	if err != nil {
		d.logger.Warn("Memory recall failed", "error", err)
		return nil
	}
	return recalled
}

// remember records a one-line summary of the completed turn. Best effort:
// failures are logged, never surfaced.
func (d *Driver) remember(ctx context.Context, conv *Conversation, userText, finalText string) {
	if d.memory == nil {
		return
	}
	summary := fmt.Sprintf("Asked: %s | Outcome: %s", DeriveTitle(userText), DeriveTitle(finalText))
	if err := d.memory.Remember(ctx, "conversation", summary); err != nil {
		d.logger.Warn("Memory store failed", "error", err)
	}
}

func lastUserMessage(conv *Conversation) string {
	for i := len(conv.Turns) - 1; i >= 0; i-- {
		if conv.Turns[i].Role == RoleUser {
			return conv.Turns[i].Content
		}
	}
	return ""
}
