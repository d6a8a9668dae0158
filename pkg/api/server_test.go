package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/approval"
	"github.com/atlasops/atlas/pkg/store"
	"github.com/atlasops/atlas/pkg/tools"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubDriver struct {
	result *agent.ChatResult
	err    error
	last   agent.ChatRequest
}

func (d *stubDriver) Handle(_ context.Context, req agent.ChatRequest) (*agent.ChatResult, error) {
	d.last = req
	if d.err != nil {
		return nil, d.err
	}
	return d.result, nil
}

type stubDecider struct {
	decision *approval.Decision
	err      error
	lastID   string
	lastOK   bool
}

func (d *stubDecider) Decide(_ context.Context, executionID string, approved bool) (*approval.Decision, error) {
	d.lastID = executionID
	d.lastOK = approved
	if d.err != nil {
		return nil, d.err
	}
	return d.decision, nil
}

type testEnv struct {
	server        *Server
	driver        *stubDriver
	decider       *stubDecider
	conversations *store.MemoryConversationStore
	pendings      *store.MemoryPendingStore
	audits        *store.MemoryAuditStore
}

func newTestEnv(t *testing.T, checks map[string]HealthCheck) *testEnv {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.ToolSpec{
		Name:        "get_widgets",
		Description: "List widgets.",
		Class:       tools.ClassSafe,
		Schema:      json.RawMessage(`{"type":"object"}`),
	}, func(context.Context, json.RawMessage) (any, error) { return nil, nil }))

	env := &testEnv{
		driver:        &stubDriver{},
		decider:       &stubDecider{},
		conversations: store.NewMemoryConversationStore(),
		pendings:      store.NewMemoryPendingStore(),
		audits:        store.NewMemoryAuditStore(),
	}
	env.server = NewServer(
		ServerConfig{
			DefaultModel:  "claude-sonnet-4-20250514",
			AllowedModels: []string{"claude-opus-4-20250514"},
		},
		env.driver, env.decider,
		env.conversations, env.pendings, env.audits,
		reg, checks, slog.Default(),
	)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	return w
}

func TestChatHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	env.driver.result = &agent.ChatResult{
		ConversationID: "conv-1",
		ResponseText:   "All pods are healthy.",
		Usage:          agent.TokenUsage{InputTokens: 10, OutputTokens: 4},
	}

	w := env.do(t, http.MethodPost, "/api/v1/chat", `{"message":"check the pods","approval_mode":"strict"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, "All pods are healthy.", resp.ResponseText)
	assert.Equal(t, "check the pods", env.driver.last.Message)
	assert.Equal(t, "strict", env.driver.last.ApprovalMode)
}

func TestChatHandlerValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/chat", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/chat", `{broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy conversation", fmt.Errorf("conversation x: %w", agent.ErrConversationBusy), http.StatusConflict},
		{"bad model", fmt.Errorf("model %q: %w", "gpt-4", agent.ErrBadModel), http.StatusBadRequest},
		{"unreachable llm", &agent.UnreachableError{Cause: fmt.Errorf("dial refused")}, http.StatusBadGateway},
		{"not found", agent.ErrNotFound, http.StatusNotFound},
		{"internal", fmt.Errorf("disk exploded"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.driver.err = tt.err
			w := env.do(t, http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestApproveHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	env.decider.decision = &approval.Decision{
		ExecutionID: "exec-1",
		Approved:    true,
		Status:      store.PendingStatusApproved,
		Result:      agent.ToolResult{Status: agent.StatusOK, Content: `{"scaled":true}`},
	}

	w := env.do(t, http.MethodPost, "/api/v1/approve", `{"execution_id":"exec-1","approved":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "exec-1", env.decider.lastID)
	assert.True(t, env.decider.lastOK)
}

func TestApproveHandlerValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/approve", `{"approved":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/approve", `{"execution_id":"exec-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "approved must be explicit")
}

func TestApproveHandlerAlreadyDecided(t *testing.T) {
	env := newTestEnv(t, nil)
	env.decider.err = agent.ErrAlreadyDecided

	w := env.do(t, http.MethodPost, "/api/v1/approve", `{"execution_id":"exec-1","approved":false}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConversationHandlers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	conv := agent.NewConversation("conv-1", "why is payments down", time.Now().UTC())
	conv.Append(agent.UserTurn("why is payments down", time.Now().UTC()))
	conv.Append(agent.AssistantTurn("Looking into it.", nil, time.Now().UTC()))
	require.NoError(t, env.conversations.Save(ctx, conv))

	w := env.do(t, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summaries []agent.ConversationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "conv-1", summaries[0].ID)
	assert.Equal(t, 2, summaries[0].MessageCount)

	w = env.do(t, http.MethodGet, "/api/v1/conversations/conv-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var loaded ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loaded))
	assert.Len(t, loaded.Messages, 2)

	w = env.do(t, http.MethodDelete, "/api/v1/conversations/conv-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/conversations/conv-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecutionHandlers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, env.pendings.Create(ctx, &store.PendingExecution{
		ExecutionID:    "exec-1",
		ConversationID: "conv-1",
		Tool:           "scale_deployment",
		Status:         store.PendingStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}))
	require.NoError(t, env.audits.Record(ctx, &store.AuditRecord{
		ExecutionID:    "exec-0",
		ConversationID: "conv-1",
		Tool:           "get_pods",
		Status:         store.AuditStatusSuccess,
		RequestedAt:    now,
	}))

	w := env.do(t, http.MethodGet, "/api/v1/executions/pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending []*store.PendingExecution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "exec-1", pending[0].ExecutionID)

	w = env.do(t, http.MethodGet, "/api/v1/executions/history?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var records []*store.AuditRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "exec-0", records[0].ExecutionID)

	w = env.do(t, http.MethodGet, "/api/v1/executions/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	var specs []ToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &specs))
	require.Len(t, specs, 1)
	assert.Equal(t, "get_widgets", specs[0].Name)
	assert.Equal(t, "safe", specs[0].Class)
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Default)
	assert.Equal(t, []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514"}, resp.Models)
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := newTestEnv(t, map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		})
		w := env.do(t, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	})

	t.Run("unhealthy dependency", func(t *testing.T) {
		env := newTestEnv(t, map[string]HealthCheck{
			"postgres": func(context.Context) error { return fmt.Errorf("connection refused") },
		})
		w := env.do(t, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")
	})
}
