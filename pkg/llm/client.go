// Package llm adapts the agent conversation model to the Anthropic
// Messages API. One Complete call is one non-streaming request; retry
// policy lives in the driver, not here.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/atlasops/atlas/pkg/agent"
)

// DefaultMaxTokens bounds a single completion when not configured.
const DefaultMaxTokens = 4096

// Config holds the Anthropic connection settings.
type Config struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// AnthropicClient implements agent.LLMClient over the official SDK.
type AnthropicClient struct {
	client    anthropic.Client
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicClient creates the client. The API key is required.
func NewAnthropicClient(cfg Config, logger *slog.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		maxTokens: int64(maxTokens),
		logger:    logger.With("component", "llm"),
	}, nil
}

// Complete sends the conversation and returns the model's reply.
func (c *AnthropicClient) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	params, err := buildParams(req, c.maxTokens)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, *params)
	if err != nil {
		return nil, classifyError(err)
	}

	resp, err := translateMessage(msg)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Completion received",
		"model", req.Model,
		"stop_reason", resp.StopReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func buildParams(req *agent.CompletionRequest, maxTokens int64) (*anthropic.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("model is required")
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, errors.New("conversation has no sendable turns")
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return params, nil
}

// encodeMessages renders conversation turns as Anthropic messages.
// Consecutive tool-result turns collapse into one user message of
// tool_result blocks, matching how the API pairs results with the
// preceding assistant tool_use blocks.
func encodeMessages(turns []agent.Turn) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, turn := range turns {
		switch turn.Role {
		case agent.RoleUser:
			flushResults()
			if turn.Content == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))

		case agent.RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				var input map[string]any
				params := call.Params
				if len(params) == 0 {
					params = json.RawMessage(`{}`)
				}
				if err := json.Unmarshal(params, &input); err != nil {
					return nil, fmt.Errorf("tool call %s has invalid params: %w", call.ID, err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case agent.RoleTool:
			if turn.Result == nil {
				continue
			}
			pendingResults = append(pendingResults, encodeResult(turn.Result))
		}
	}
	flushResults()
	return out, nil
}

// encodeResult renders one tool result block. Suspension placeholders go
// to the model as plain (non-error) results so it treats the gate as an
// outcome, not a failure.
func encodeResult(res *agent.ToolResult) anthropic.ContentBlockParamUnion {
	switch res.Status {
	case agent.StatusApprovalRequired:
		return anthropic.NewToolResultBlock(res.CallID,
			"Execution suspended: this operation requires human approval before it runs.", false)
	case agent.StatusError:
		return anthropic.NewToolResultBlock(res.CallID, res.Content, true)
	default:
		content := res.Content
		if len(res.Notes) > 0 {
			content = content + "\n\nValidation notes: " + strings.Join(res.Notes, "; ")
		}
		return anthropic.NewToolResultBlock(res.CallID, content, false)
	}
}

func encodeTools(defs []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s has invalid schema: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: schema did not produce a tool param", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		out = append(out, param)
	}
	return out, nil
}

func translateMessage(msg *anthropic.Message) (*agent.CompletionResponse, error) {
	if msg == nil {
		return nil, errors.New("anthropic returned a nil message")
	}
	resp := &agent.CompletionResponse{
		StopReason: string(msg.StopReason),
		Usage: agent.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
				ID:     block.ID,
				Name:   block.Name,
				Params: json.RawMessage(block.Input),
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// classifyError maps SDK failures onto the agent error taxonomy: 5xx and
// 429 are transient (the driver retries once), other API statuses are
// surfaced as-is, and transport failures count as unreachable.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 {
			return &agent.UnreachableError{Cause: err}
		}
		return &agent.APIError{Status: apiErr.StatusCode, Detail: apiErr.Error()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &agent.UnreachableError{Cause: err}
}
