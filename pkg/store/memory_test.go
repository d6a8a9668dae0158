package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasops/atlas/pkg/agent"
)

func sampleConversation(id string, base time.Time) *agent.Conversation {
	conv := agent.NewConversation(id, "List pods in default namespace", base)
	conv.Append(agent.UserTurn("List pods in default namespace", base))
	conv.Append(agent.AssistantTurn("Checking.", []agent.ToolCall{
		{ID: "call-1", Name: "kubectl_get_pods", Params: json.RawMessage(`{"namespace":"default"}`)},
	}, base.Add(time.Second)))
	conv.Append(agent.ToolTurn(agent.ToolResult{
		CallID:  "call-1",
		Name:    "kubectl_get_pods",
		Status:  agent.StatusOK,
		Content: `{"count":2}`,
	}, base.Add(2*time.Second)))
	return conv
}

func TestMemoryConversationStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	conv := sampleConversation("conv-1", base)
	require.NoError(t, s.Save(ctx, conv))

	loaded, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)

	// Reloading must yield a byte-equal turn sequence.
	want, err := json.Marshal(conv.Turns)
	require.NoError(t, err)
	got, err := json.Marshal(loaded.Turns)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	// The stored copy is independent of later mutation.
	loaded.Append(agent.UserTurn("another", base.Add(time.Minute)))
	again, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, again.Turns, 3)
}

func TestMemoryConversationStore_NotFound(t *testing.T) {
	s := NewMemoryConversationStore()
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, agent.ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "nope"), agent.ErrNotFound)
}

func TestMemoryConversationStore_ListOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, sampleConversation("old", base)))
	require.NoError(t, s.Save(ctx, sampleConversation("new", base.Add(time.Hour))))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	assert.Equal(t, 3, list[0].MessageCount)
	assert.Equal(t, "List pods in default namespace", list[0].Title)

	require.NoError(t, s.Delete(ctx, "old"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func samplePending(id string, created time.Time) *PendingExecution {
	return &PendingExecution{
		ExecutionID:    id,
		ConversationID: "conv-1",
		CallID:         "call-1",
		Tool:           "kubectl_scale_deployment",
		Params:         json.RawMessage(`{"namespace":"production","deployment_name":"frontend","replicas":5}`),
		Classification: "dangerous",
		Mode:           "normal",
		Model:          "claude-sonnet-4-20250514",
		Status:         PendingStatusPending,
		CreatedAt:      created,
		ExpiresAt:      created.Add(DefaultPendingTTL),
	}
}

func TestMemoryPendingStore_Transitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPendingStore()
	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, samplePending("exec-1", created)))
	assert.ErrorIs(t, s.Create(ctx, samplePending("exec-1", created)), ErrDuplicate)

	decided := created.Add(time.Minute)
	p, err := s.Transition(ctx, "exec-1", PendingStatusApproved, decided)
	require.NoError(t, err)
	assert.Equal(t, PendingStatusApproved, p.Status)
	require.NotNil(t, p.DecidedAt)
	assert.True(t, p.DecidedAt.Equal(decided))

	// Terminal states are monotonic.
	_, err = s.Transition(ctx, "exec-1", PendingStatusRejected, decided)
	assert.ErrorIs(t, err, agent.ErrAlreadyDecided)
	_, err = s.Transition(ctx, "exec-1", PendingStatusApproved, decided)
	assert.ErrorIs(t, err, agent.ErrAlreadyDecided)

	_, err = s.Transition(ctx, "missing", PendingStatusRejected, decided)
	assert.ErrorIs(t, err, agent.ErrNotFound)

	_, err = s.Transition(ctx, "exec-1", PendingStatusPending, decided)
	assert.Error(t, err)
}

func TestMemoryPendingStore_AttachResult(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPendingStore()
	created := time.Now().UTC()
	require.NoError(t, s.Create(ctx, samplePending("exec-1", created)))

	res := agent.ToolResult{CallID: "call-1", Name: "kubectl_scale_deployment", Status: agent.StatusOK, Content: `{"replicas":5}`}
	require.NoError(t, s.AttachResult(ctx, "exec-1", res))

	p, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, p.Result)
	assert.Equal(t, agent.StatusOK, p.Result.Status)
}

func TestMemoryPendingStore_ExpireStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPendingStore()
	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, samplePending("stale", created)))
	fresh := samplePending("fresh", created.Add(30*time.Minute))
	require.NoError(t, s.Create(ctx, fresh))

	now := created.Add(DefaultPendingTTL + time.Minute)
	expired, err := s.ExpireStale(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ExecutionID)
	assert.Equal(t, PendingStatusExpired, expired[0].Status)

	// Second sweep finds nothing new.
	expired, err = s.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, expired)

	list, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ExecutionID)
}

func TestMemoryAuditStore_WriteOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	rec := &AuditRecord{
		ExecutionID:    "exec-1",
		ConversationID: "conv-1",
		Tool:           "kubectl_get_pods",
		Params:         json.RawMessage(`{}`),
		Status:         AuditStatusSuccess,
		RequestedAt:    base,
	}
	require.NoError(t, s.Record(ctx, rec))
	assert.ErrorIs(t, s.Record(ctx, rec), ErrDuplicate)
}

func TestMemoryAuditStore_ListAndPurge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		convID := "conv-1"
		if id == "c" {
			convID = "conv-2"
		}
		require.NoError(t, s.Record(ctx, &AuditRecord{
			ExecutionID:    id,
			ConversationID: convID,
			Tool:           "kubectl_get_pods",
			Status:         AuditStatusSuccess,
			RequestedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ExecutionID)
	assert.Equal(t, "b", list[1].ExecutionID)

	byConv, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, byConv, 2)
	assert.Equal(t, "b", byConv[0].ExecutionID)

	dropped, err := s.Purge(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	list, err = s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].ExecutionID)
}

func TestPreview(t *testing.T) {
	short := "abc"
	assert.Equal(t, short, Preview(short))

	long := make([]byte, ResultPreviewLimit+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, Preview(string(long)), ResultPreviewLimit)
}
