package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasops/atlas/pkg/agent"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, agent.ModeNormal, cfg.ApprovalMode)
	assert.Equal(t, agent.DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, agent.DefaultTurnTimeout, cfg.TurnTimeout)
	assert.Equal(t, 60*time.Second, cfg.ToolTimeout)
	assert.Equal(t, time.Hour, cfg.PendingTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.AuditRetention)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.AllowedModels)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("APPROVAL_MODE", "strict")
	t.Setenv("MAX_ITERATIONS", "8")
	t.Setenv("TURN_TIMEOUT", "2m")
	t.Setenv("ALLOWED_MODELS", "claude-sonnet-4-20250514, claude-opus-4-20250514")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, agent.ModeStrict, cfg.ApprovalMode)
	assert.Equal(t, 8, cfg.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.TurnTimeout)
	assert.Equal(t, []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514"}, cfg.AllowedModels)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestLoadRejectsUnknownApprovalMode(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("APPROVAL_MODE", "yolo")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APPROVAL_MODE")
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("MAX_ITERATIONS", "not-a-number")
	t.Setenv("TOOL_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, agent.DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, 60*time.Second, cfg.ToolTimeout)
}
