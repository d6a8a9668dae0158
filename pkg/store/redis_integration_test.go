package store

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/atlasops/atlas/pkg/agent"
)

// setupRedis returns a flushed client against a throwaway container, or
// against an external instance when TEST_REDIS_URL is set (CI service
// container).
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		container, err := tcredis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err)
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		url, err = container.ConnectionString(ctx)
		require.NoError(t, err)
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, rdb.FlushAll(ctx).Err())
	return rdb
}

func testPending(executionID string, createdAt time.Time) *PendingExecution {
	return &PendingExecution{
		ExecutionID:    executionID,
		ConversationID: "conv-1",
		CallID:         "call_1",
		Tool:           "kubectl_scale_deployment",
		Params:         json.RawMessage(`{"deployment":"api","replicas":5}`),
		Classification: "dangerous",
		Mode:           "normal",
		Model:          "claude-sonnet-4-20250514",
		Status:         PendingStatusPending,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(time.Hour),
	}
}

func TestRedisConversationStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewRedisConversationStore(setupRedis(t))
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	first := agent.NewConversation("conv-1", "check the pods", base)
	first.Append(agent.UserTurn("check the pods", base))
	require.NoError(t, s.Save(ctx, first))

	second := agent.NewConversation("conv-2", "scale the api", base.Add(time.Minute))
	second.Append(agent.UserTurn("scale the api", base.Add(time.Minute)))
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "check the pods", got.Title)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, agent.RoleUser, got.Turns[0].Role)
	assert.True(t, got.UpdatedAt.Equal(base))

	// Newest first via the ZSET index.
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "conv-2", list[0].ID)
	assert.Equal(t, 1, list[0].MessageCount)

	// Re-saving bumps the index score.
	first.Append(agent.AssistantTurn("all healthy", nil, base.Add(2*time.Minute)))
	require.NoError(t, s.Save(ctx, first))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", list[0].ID)

	require.NoError(t, s.Delete(ctx, "conv-1"))
	_, err = s.Load(ctx, "conv-1")
	assert.ErrorIs(t, err, agent.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "conv-1"), agent.ErrNotFound)

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "conv-2", list[0].ID)
}

func TestRedisPendingStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewRedisPendingStore(setupRedis(t), time.Hour)
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, testPending("exec-1", now)))
	assert.ErrorIs(t, s.Create(ctx, testPending("exec-1", now)), ErrDuplicate)

	got, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, PendingStatusPending, got.Status)
	assert.Equal(t, "kubectl_scale_deployment", got.Tool)

	_, err = s.Get(ctx, "exec-missing")
	assert.ErrorIs(t, err, agent.ErrNotFound)
}

func TestRedisPendingStore_KeyOutlivesApprovalWindow(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)
	s := NewRedisPendingStore(rdb, time.Hour)

	require.NoError(t, s.Create(ctx, testPending("exec-1", time.Now().UTC())))

	// The key must stay readable past the decision TTL so late approvals
	// surface AlreadyDecided instead of NotFound.
	ttl, err := rdb.TTL(ctx, pendingKey("exec-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)
	assert.LessOrEqual(t, ttl, time.Hour+pendingKeyGrace)
}

func TestRedisPendingStore_Transition(t *testing.T) {
	ctx := context.Background()
	s := NewRedisPendingStore(setupRedis(t), time.Hour)
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, testPending("exec-1", now)))

	decidedAt := now.Add(time.Minute)
	updated, err := s.Transition(ctx, "exec-1", PendingStatusApproved, decidedAt)
	require.NoError(t, err)
	assert.Equal(t, PendingStatusApproved, updated.Status)
	require.NotNil(t, updated.DecidedAt)
	assert.True(t, updated.DecidedAt.Equal(decidedAt))

	// Terminal states are monotonic.
	_, err = s.Transition(ctx, "exec-1", PendingStatusRejected, decidedAt)
	assert.ErrorIs(t, err, agent.ErrAlreadyDecided)

	_, err = s.Transition(ctx, "exec-missing", PendingStatusApproved, decidedAt)
	assert.ErrorIs(t, err, agent.ErrNotFound)

	_, err = s.Transition(ctx, "exec-1", PendingStatusPending, decidedAt)
	assert.Error(t, err)
}

func TestRedisPendingStore_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	s := NewRedisPendingStore(setupRedis(t), time.Hour)
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, testPending("exec-1", now)))

	// Racing approve/reject decisions: exactly one wins, the rest see
	// AlreadyDecided.
	const racers = 8
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		to := PendingStatusApproved
		if i%2 == 1 {
			to = PendingStatusRejected
		}
		wg.Add(1)
		go func(i int, to PendingStatus) {
			defer wg.Done()
			_, results[i] = s.Transition(ctx, "exec-1", to, time.Now().UTC())
		}(i, to)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, agent.ErrAlreadyDecided)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}

func TestRedisPendingStore_AttachResult(t *testing.T) {
	ctx := context.Background()
	s := NewRedisPendingStore(setupRedis(t), time.Hour)
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, testPending("exec-1", now)))
	_, err := s.Transition(ctx, "exec-1", PendingStatusApproved, now.Add(time.Minute))
	require.NoError(t, err)

	res := agent.ToolResult{
		CallID:      "call_1",
		Name:        "kubectl_scale_deployment",
		Status:      agent.StatusOK,
		ExecutionID: "exec-1",
		Content:     `{"replicas":5}`,
	}
	require.NoError(t, s.AttachResult(ctx, "exec-1", res))

	got, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, PendingStatusApproved, got.Status, "attaching keeps the decided status")
	require.NotNil(t, got.Result)
	assert.Equal(t, agent.StatusOK, got.Result.Status)
	assert.Equal(t, `{"replicas":5}`, got.Result.Content)

	assert.ErrorIs(t, s.AttachResult(ctx, "exec-missing", res), agent.ErrNotFound)
}

func TestRedisPendingStore_ListAndExpire(t *testing.T) {
	ctx := context.Background()
	s := NewRedisPendingStore(setupRedis(t), time.Hour)
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	overdue := testPending("exec-overdue", base)
	require.NoError(t, s.Create(ctx, overdue))
	fresh := testPending("exec-fresh", base.Add(time.Minute))
	fresh.ExpiresAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.Create(ctx, fresh))
	decided := testPending("exec-decided", base.Add(2*time.Minute))
	require.NoError(t, s.Create(ctx, decided))
	_, err := s.Transition(ctx, "exec-decided", PendingStatusRejected, base.Add(3*time.Minute))
	require.NoError(t, err)

	// Undecided records only, oldest first.
	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "exec-overdue", pending[0].ExecutionID)
	assert.Equal(t, "exec-fresh", pending[1].ExecutionID)

	expired, err := s.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "exec-overdue", expired[0].ExecutionID)
	assert.Equal(t, PendingStatusExpired, expired[0].Status)

	got, err := s.Get(ctx, "exec-overdue")
	require.NoError(t, err)
	assert.Equal(t, PendingStatusExpired, got.Status)

	// A second sweep finds nothing left to expire.
	expired, err = s.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, expired)

	pending, err = s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "exec-fresh", pending[0].ExecutionID)
}

func TestRedisAuditStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	s := NewRedisAuditStore(setupRedis(t), DefaultAuditRetention)
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	rec := &AuditRecord{
		ExecutionID:    "exec-1",
		ConversationID: "conv-1",
		Tool:           "kubectl_scale_deployment",
		Params:         json.RawMessage(`{"replicas":5}`),
		Approver:       "user",
		Status:         AuditStatusSuccess,
		RequestedAt:    base,
	}
	require.NoError(t, s.Record(ctx, rec))
	assert.ErrorIs(t, s.Record(ctx, rec), ErrDuplicate)

	require.NoError(t, s.Record(ctx, &AuditRecord{
		ExecutionID:    "exec-2",
		ConversationID: "conv-2",
		Tool:           "kubectl_get_pods",
		Params:         json.RawMessage(`{}`),
		Status:         AuditStatusError,
		RequestedAt:    base.Add(time.Hour),
	}))
	require.NoError(t, s.Record(ctx, &AuditRecord{
		ExecutionID:    "exec-3",
		ConversationID: "conv-1",
		Tool:           "kubectl_get_pods",
		Params:         json.RawMessage(`{}`),
		Status:         AuditStatusSuccess,
		RequestedAt:    base.Add(2 * time.Hour),
	}))

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "exec-3", list[0].ExecutionID)
	assert.Equal(t, "exec-2", list[1].ExecutionID)
	assert.Equal(t, "exec-1", list[2].ExecutionID)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "exec-3", limited[0].ExecutionID)

	byConv, err := s.ListByConversation(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, byConv, 2)
	assert.Equal(t, "exec-3", byConv[0].ExecutionID)
	assert.Equal(t, "exec-1", byConv[1].ExecutionID)

	dropped, err := s.Purge(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, dropped, "redis audit keys expire with their TTL")
}
