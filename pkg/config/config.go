// Package config loads all runtime settings from the environment. There
// is no config file: a .env loaded at startup plus real environment
// variables is the whole surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atlasops/atlas/pkg/agent"
)

// Config is the full runtime configuration.
type Config struct {
	HTTPPort string
	LogLevel string

	// Anthropic connection.
	AnthropicAPIKey  string
	AnthropicBaseURL string
	DefaultModel     string
	AllowedModels    []string
	MaxTokens        int

	// Conversation loop.
	ApprovalMode  agent.ApprovalMode
	MaxIterations int
	TurnTimeout   time.Duration
	RecallLimit   int

	// Tool execution.
	ToolTimeout      time.Duration
	ShellWorkDir     string
	DefaultNamespace string
	Kubeconfig       string

	// State backends. Empty RedisURL means in-process state; empty
	// DatabaseURL means audit records live in the same backend as the
	// rest of the state.
	RedisURL    string
	DatabaseURL string

	// Approval lifecycle.
	PendingTTL     time.Duration
	AuditRetention time.Duration
	SweepInterval  time.Duration

	ShutdownTimeout time.Duration
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		DefaultModel:     getEnv("DEFAULT_MODEL", "claude-sonnet-4-20250514"),
		AllowedModels:    splitList(os.Getenv("ALLOWED_MODELS")),
		MaxTokens:        getEnvInt("MAX_TOKENS", 4096),
		ApprovalMode:     agent.ApprovalMode(getEnv("APPROVAL_MODE", string(agent.ModeNormal))),
		MaxIterations:    getEnvInt("MAX_ITERATIONS", agent.DefaultMaxIterations),
		TurnTimeout:      getEnvDuration("TURN_TIMEOUT", agent.DefaultTurnTimeout),
		RecallLimit:      getEnvInt("MEMORY_RECALL_LIMIT", 3),
		ToolTimeout:      getEnvDuration("TOOL_TIMEOUT", 60*time.Second),
		ShellWorkDir:     os.Getenv("SHELL_WORK_DIR"),
		DefaultNamespace: getEnv("DEFAULT_NAMESPACE", "default"),
		Kubeconfig:       os.Getenv("KUBECONFIG"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PendingTTL:       getEnvDuration("APPROVAL_TTL", time.Hour),
		AuditRetention:   getEnvDuration("AUDIT_RETENTION", 30*24*time.Hour),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	switch c.ApprovalMode {
	case agent.ModeStrict, agent.ModeNormal, agent.ModeAuto:
	default:
		return fmt.Errorf("APPROVAL_MODE must be strict, normal, or auto, got %q", c.ApprovalMode)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("MAX_ITERATIONS must be positive, got %d", c.MaxIterations)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.TurnTimeout <= 0 || c.ToolTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("APPROVAL_TTL must be positive, got %s", c.PendingTTL)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
