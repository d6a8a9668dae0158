package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/store"
)

func TestSweep_ExpiresStalePendings(t *testing.T) {
	ctx := context.Background()
	pendings := store.NewMemoryPendingStore()
	audits := store.NewMemoryAuditStore()
	s := NewSweeper(pendings, audits, time.Minute, store.DefaultAuditRetention, slog.Default())

	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	require.NoError(t, pendings.Create(ctx, &store.PendingExecution{
		ExecutionID:    "stale",
		ConversationID: "conv-1",
		CallID:         "call-1",
		Tool:           "kubectl_delete_pod",
		Params:         json.RawMessage(`{"namespace":"default","pod_name":"web-1"}`),
		Classification: "dangerous",
		CreatedAt:      base,
		ExpiresAt:      base.Add(time.Hour),
	}))
	require.NoError(t, pendings.Create(ctx, &store.PendingExecution{
		ExecutionID:    "fresh",
		ConversationID: "conv-1",
		CallID:         "call-2",
		Tool:           "kubectl_delete_pod",
		Params:         json.RawMessage(`{}`),
		Classification: "dangerous",
		CreatedAt:      base.Add(90 * time.Minute),
		ExpiresAt:      base.Add(150 * time.Minute),
	}))

	s.sweep(ctx)

	p, err := pendings.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.PendingStatusExpired, p.Status)

	p, err = pendings.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.PendingStatusPending, p.Status)

	recs, err := audits.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "stale", recs[0].ExecutionID)
	assert.Equal(t, store.AuditStatusExpired, recs[0].Status)
	assert.Empty(t, recs[0].Approver)

	// A later decision on the expired record is refused.
	_, err = pendings.Transition(ctx, "stale", store.PendingStatusApproved, s.now())
	assert.ErrorIs(t, err, agent.ErrAlreadyDecided)

	// Sweeping again records nothing new.
	s.sweep(ctx)
	recs, err = audits.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSweep_PurgesOldAuditRecords(t *testing.T) {
	ctx := context.Background()
	pendings := store.NewMemoryPendingStore()
	audits := store.NewMemoryAuditStore()
	s := NewSweeper(pendings, audits, time.Minute, 30*24*time.Hour, slog.Default())

	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	require.NoError(t, audits.Record(ctx, &store.AuditRecord{
		ExecutionID: "ancient", ConversationID: "c", Tool: "kubectl_get_pods",
		Status: store.AuditStatusSuccess, RequestedAt: base.Add(-31 * 24 * time.Hour),
	}))
	require.NoError(t, audits.Record(ctx, &store.AuditRecord{
		ExecutionID: "recent", ConversationID: "c", Tool: "kubectl_get_pods",
		Status: store.AuditStatusSuccess, RequestedAt: base.Add(-time.Hour),
	}))

	s.sweep(ctx)

	recs, err := audits.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "recent", recs[0].ExecutionID)
}

func TestSweeper_StartStop(t *testing.T) {
	pendings := store.NewMemoryPendingStore()
	audits := store.NewMemoryAuditStore()
	s := NewSweeper(pendings, audits, 10*time.Millisecond, 0, slog.Default())

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	// Stop is idempotent and Start after Stop on a fresh sweeper is not
	// required behaviour; just ensure the loop exits cleanly.
	s.Stop()
}
