package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/api"
	"github.com/atlasops/atlas/pkg/approval"
	"github.com/atlasops/atlas/pkg/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestSafeToolExecutesImmediately(t *testing.T) {
	llm := NewScriptedLLMClient().
		AddToolCalls(agent.ToolCall{ID: "call_1", Name: "kubectl_get_pods", Params: json.RawMessage(`{}`)}).
		AddText("Three pods are running, all healthy.")
	app := NewTestApp(t, WithLLMClient(llm))

	var chat api.ChatResponse
	status := app.Chat(map[string]any{"message": "how many pods are running?"}, &chat)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "Three pods are running, all healthy.", chat.ResponseText)
	assert.Nil(t, chat.Execution, "safe calls run without suspension")
	require.Len(t, chat.ToolResults, 1)
	assert.Equal(t, agent.StatusOK, chat.ToolResults[0].Status)
	assert.Contains(t, chat.ToolResults[0].Content, "api-7f9c-x2k4")

	var pending []json.RawMessage
	require.Equal(t, http.StatusOK, app.GetJSON("/api/v1/executions/pending", &pending))
	assert.Empty(t, pending)

	recs := app.AuditRecords(10)
	require.Len(t, recs, 1)
	assert.Equal(t, "kubectl_get_pods", recs[0].Tool)
	assert.Equal(t, store.AuditStatusSuccess, recs[0].Status)
	assert.Empty(t, recs[0].Approver, "safe auto-executed calls carry no approver")
	assert.NotNil(t, recs[0].CompletedAt)
}

func TestDangerousToolRequiresApproval(t *testing.T) {
	llm := NewScriptedLLMClient().
		AddToolCalls(agent.ToolCall{ID: "call_1", Name: "kubectl_scale_deployment",
			Params: json.RawMessage(`{"deployment":"api","replicas":5}`)}).
		AddText("Scaled api to 5 replicas.")
	app := NewTestApp(t, WithLLMClient(llm))

	var chat api.ChatResponse
	require.Equal(t, http.StatusOK, app.Chat(map[string]any{"message": "scale api to 5"}, &chat))

	require.NotNil(t, chat.Execution)
	assert.Equal(t, "kubectl_scale_deployment", chat.Execution.Tool)
	assert.Equal(t, "dangerous", chat.Execution.Classification)
	require.Len(t, chat.ToolResults, 1)
	assert.Equal(t, agent.StatusApprovalRequired, chat.ToolResults[0].Status)
	assert.Equal(t, 2, app.Cluster.Replicas("api"), "nothing runs before the decision")

	var decision approval.Decision
	require.Equal(t, http.StatusOK, app.Approve(chat.Execution.ExecutionID, true, &decision))

	assert.True(t, decision.Approved)
	assert.Equal(t, store.PendingStatusApproved, decision.Status)
	assert.Equal(t, agent.StatusOK, decision.Result.Status)
	require.NotNil(t, decision.Chat, "approval resumes the conversation inline")
	assert.Equal(t, "Scaled api to 5 replicas.", decision.Chat.ResponseText)
	assert.Equal(t, 5, app.Cluster.Replicas("api"))

	recs := app.AuditRecords(10)
	require.Len(t, recs, 1)
	assert.Equal(t, store.AuditStatusSuccess, recs[0].Status)
	assert.Equal(t, "user", recs[0].Approver)
	assert.NotNil(t, recs[0].DecidedAt)
}

func TestDangerousToolRejected(t *testing.T) {
	llm := NewScriptedLLMClient().
		AddToolCalls(agent.ToolCall{ID: "call_1", Name: "kubectl_delete_pod",
			Params: json.RawMessage(`{"pod":"api-7f9c-x2k4"}`)}).
		AddText("Understood, the pod stays.")
	app := NewTestApp(t, WithLLMClient(llm))

	var chat api.ChatResponse
	require.Equal(t, http.StatusOK, app.Chat(map[string]any{"message": "delete the crashing pod"}, &chat))
	require.NotNil(t, chat.Execution)

	var decision approval.Decision
	require.Equal(t, http.StatusOK, app.Approve(chat.Execution.ExecutionID, false, &decision))

	assert.False(t, decision.Approved)
	assert.Equal(t, store.PendingStatusRejected, decision.Status)
	assert.Equal(t, agent.StatusError, decision.Result.Status)
	assert.Contains(t, decision.Result.Content, "user_rejected")
	require.NotNil(t, decision.Chat)
	assert.Equal(t, "Understood, the pod stays.", decision.Chat.ResponseText)

	assert.Len(t, app.Cluster.Pods(), 3, "rejected calls never run")

	recs := app.AuditRecords(10)
	require.Len(t, recs, 1)
	assert.Equal(t, store.AuditStatusRejected, recs[0].Status)
	assert.Equal(t, "user", recs[0].Approver)
}

func TestStrictModeGatesSafeTool(t *testing.T) {
	llm := NewScriptedLLMClient().
		AddToolCalls(agent.ToolCall{ID: "call_1", Name: "kubectl_get_pods", Params: json.RawMessage(`{}`)}).
		AddText("Three pods running.")
	app := NewTestApp(t, WithLLMClient(llm))

	var chat api.ChatResponse
	require.Equal(t, http.StatusOK, app.Chat(map[string]any{
		"message":       "list the pods",
		"approval_mode": "strict",
	}, &chat))

	require.NotNil(t, chat.Execution, "strict mode suspends even safe calls")
	assert.Equal(t, "safe", chat.Execution.Classification)

	var decision approval.Decision
	require.Equal(t, http.StatusOK, app.Approve(chat.Execution.ExecutionID, true, &decision))
	assert.Equal(t, agent.StatusOK, decision.Result.Status)
	assert.Contains(t, decision.Result.Content, "worker-5d21-q7r3")
	require.NotNil(t, decision.Chat)
	assert.Equal(t, "Three pods running.", decision.Chat.ResponseText)
}

func TestSchemaViolationSurfacesToModel(t *testing.T) {
	llm := NewScriptedLLMClient().
		AddToolCalls(agent.ToolCall{ID: "call_1", Name: "kubectl_scale_deployment",
			Params: json.RawMessage(`{"deployment":"api","replicas":-3}`)}).
		AddText("That replica count is invalid; nothing was changed.")
	app := NewTestApp(t, WithLLMClient(llm))

	var chat api.ChatResponse
	require.Equal(t, http.StatusOK, app.Chat(map[string]any{"message": "scale api to -3"}, &chat))

	assert.Nil(t, chat.Execution, "validation failures never reach the gate")
	require.Len(t, chat.ToolResults, 1)
	assert.Equal(t, agent.StatusError, chat.ToolResults[0].Status)
	assert.Contains(t, chat.ToolResults[0].Content, "replicas")
	assert.Equal(t, 2, app.Cluster.Replicas("api"))

	var pending []json.RawMessage
	require.Equal(t, http.StatusOK, app.GetJSON("/api/v1/executions/pending", &pending))
	assert.Empty(t, pending)

	recs := app.AuditRecords(10)
	require.Len(t, recs, 1)
	assert.Equal(t, store.AuditStatusError, recs[0].Status)
}

func TestApprovalExpiry(t *testing.T) {
	llm := NewScriptedLLMClient().
		AddToolCalls(agent.ToolCall{ID: "call_1", Name: "kubectl_scale_deployment",
			Params: json.RawMessage(`{"deployment":"api","replicas":5}`)}).
		AddText("The approval expired before a decision; the deployment was not scaled.")
	app := NewTestApp(t,
		WithLLMClient(llm),
		WithPendingTTL(100*time.Millisecond),
		WithSweeper(25*time.Millisecond),
	)

	var chat api.ChatResponse
	require.Equal(t, http.StatusOK, app.Chat(map[string]any{"message": "scale api to 5"}, &chat))
	require.NotNil(t, chat.Execution)
	executionID := chat.Execution.ExecutionID

	require.Eventually(t, func() bool {
		p, err := app.Pendings.Get(context.Background(), executionID)
		return err == nil && p.Status == store.PendingStatusExpired
	}, 2*time.Second, 10*time.Millisecond, "sweeper expires the stale pending")

	// A late decision against the expired record is a conflict.
	var conflict map[string]any
	assert.Equal(t, http.StatusConflict, app.Approve(executionID, true, &conflict))

	// The next turn reconciles the expiry before calling the model.
	require.Equal(t, http.StatusOK, app.Chat(map[string]any{
		"message":         "did the scaling happen?",
		"conversation_id": chat.ConversationID,
	}, &chat))
	assert.Contains(t, chat.ResponseText, "expired")
	assert.Equal(t, 2, app.Cluster.Replicas("api"))

	var conv api.ConversationResponse
	require.Equal(t, http.StatusOK, app.GetJSON("/api/v1/conversations/"+chat.ConversationID, &conv))
	foundExpired := false
	for _, turn := range conv.Messages {
		if turn.Result != nil && turn.Result.Status == agent.StatusError {
			assert.Contains(t, turn.Result.Content, "reason=expired")
			foundExpired = true
		}
	}
	assert.True(t, foundExpired, "the synthetic gate result was replaced with an expiry error")

	expiredAudit := false
	for _, rec := range app.AuditRecords(10) {
		if rec.Status == store.AuditStatusExpired && rec.ExecutionID == executionID {
			expiredAudit = true
		}
	}
	assert.True(t, expiredAudit)
}
