package memory

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewInProcessEngine(slog.Default())
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "drops stop words and punctuation",
			text: "Why is the payments pod crashing?",
			want: []string{"payments", "pod", "crashing"},
		},
		{
			name: "deduplicates and lowercases",
			text: "Restart restart RESTART nginx",
			want: []string{"restart", "nginx"},
		},
		{
			name: "drops single characters",
			text: "a b scale x 3",
			want: []string{"scale"},
		},
		{
			name: "all stop words",
			text: "what is this",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, keywords(tt.text))
		})
	}
}

func TestRank(t *testing.T) {
	entries := []string{
		"Asked: restart api pod | Outcome: restarted api-7d9f in production",
		"Asked: scale payments | Outcome: payments scaled to 5 replicas",
		"Asked: check node pressure | Outcome: node-3 under memory pressure",
	}

	t.Run("best keyword overlap wins", func(t *testing.T) {
		got := rank("scale the payments deployment", entries, 2)
		require.NotEmpty(t, got)
		assert.Equal(t, entries[1], got[0])
	})

	t.Run("no overlap returns nothing", func(t *testing.T) {
		assert.Empty(t, rank("certificate rotation", entries, 3))
	})

	t.Run("recency breaks ties", func(t *testing.T) {
		tied := []string{"pod restarted newest", "pod restarted oldest"}
		got := rank("restarted pod", tied, 2)
		require.Len(t, got, 2)
		assert.Equal(t, "pod restarted newest", got[0])
	})

	t.Run("limit caps results", func(t *testing.T) {
		got := rank("pod payments node", entries, 1)
		assert.Len(t, got, 1)
	})
}

func TestEngineRememberRecall(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Remember(ctx, "conversation", "Asked: why is payments failing | Outcome: OOMKilled, raised memory limit"))
	require.NoError(t, engine.Remember(ctx, "conversation", "Asked: cluster health | Outcome: all nodes ready"))

	got, err := engine.Recall(ctx, "payments pod failing again", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "OOMKilled")
}

func TestEngineIgnoresEmptyText(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Remember(ctx, "conversation", "   "))
	got, err := engine.Recall(ctx, "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEngineBoundsCategorySize(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < maxEntriesPerCategory+50; i++ {
		require.NoError(t, engine.Remember(ctx, "conversation", fmt.Sprintf("entry number %d about widgets", i)))
	}
	local := engine.store.(*localEntries)
	entries, err := local.entries(ctx, "conversation")
	require.NoError(t, err)
	assert.Len(t, entries, maxEntriesPerCategory)
	assert.Contains(t, entries[0], fmt.Sprintf("number %d", maxEntriesPerCategory+49))
}
