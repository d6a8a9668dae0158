// Atlas server — the conversational operations engine. Wires the LLM
// client, the tool executors, the state stores, the approval machinery,
// and the HTTP API, then runs until signalled.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/api"
	"github.com/atlasops/atlas/pkg/approval"
	"github.com/atlasops/atlas/pkg/config"
	"github.com/atlasops/atlas/pkg/engine"
	"github.com/atlasops/atlas/pkg/executors/k8s"
	"github.com/atlasops/atlas/pkg/executors/shell"
	"github.com/atlasops/atlas/pkg/history"
	"github.com/atlasops/atlas/pkg/llm"
	"github.com/atlasops/atlas/pkg/memory"
	"github.com/atlasops/atlas/pkg/store"
	"github.com/atlasops/atlas/pkg/tools"
	"github.com/atlasops/atlas/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("Starting atlas",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"approval_mode", cfg.ApprovalMode)

	ctx := context.Background()
	checks := map[string]api.HealthCheck{}

	// State backends. Redis when configured, in-process otherwise;
	// Postgres upgrades the audit tier when a DSN is present.
	var (
		conversations agent.ConversationStore
		pendings      store.PendingStore
		audits        store.AuditStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Could not reach Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		conversations = store.NewRedisConversationStore(rdb)
		pendings = store.NewRedisPendingStore(rdb, cfg.PendingTTL)
		audits = store.NewRedisAuditStore(rdb, cfg.AuditRetention)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("Using Redis state store")
	} else {
		conversations = store.NewMemoryConversationStore()
		pendings = store.NewMemoryPendingStore()
		audits = store.NewMemoryAuditStore()
		logger.Warn("No REDIS_URL configured, state is in-process and will not survive restarts")
	}

	var pgDB *sql.DB
	if cfg.DatabaseURL != "" {
		pgAudits, err := store.NewPostgresAuditStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Could not initialise PostgreSQL audit store", "error", err)
			os.Exit(1)
		}
		audits = pgAudits
		pgDB = pgAudits.DB()
		defer pgDB.Close()
		checks["postgres"] = func(ctx context.Context) error { return pgDB.PingContext(ctx) }
		logger.Info("Audit trail persisted to PostgreSQL")
	}

	// Tool catalog: the Kubernetes executor plus the shell executor.
	registry := tools.NewRegistry()
	clients, err := k8s.NewClients(cfg.Kubeconfig)
	if err != nil {
		logger.Error("Could not connect to Kubernetes", "error", err)
		os.Exit(1)
	}
	ring := history.NewRingBuffer(history.DefaultWindow)
	k8sExecutor := k8s.NewExecutor(clients, ring, cfg.DefaultNamespace, logger)
	if err := k8sExecutor.Register(registry); err != nil {
		logger.Error("Could not register Kubernetes tools", "error", err)
		os.Exit(1)
	}
	shellExecutor := shell.NewExecutor(cfg.ShellWorkDir, logger)
	if err := shellExecutor.Register(registry); err != nil {
		logger.Error("Could not register shell tool", "error", err)
		os.Exit(1)
	}
	logger.Info("Tool catalog ready", "tools", registry.Len())

	// Engine, LLM, driver.
	exec := engine.New(engine.Config{
		CallTimeout: cfg.ToolTimeout,
		PendingTTL:  cfg.PendingTTL,
	}, registry, pendings, audits, logger)

	llmClient, err := llm.NewAnthropicClient(llm.Config{
		APIKey:    cfg.AnthropicAPIKey,
		BaseURL:   cfg.AnthropicBaseURL,
		MaxTokens: cfg.MaxTokens,
	}, logger)
	if err != nil {
		logger.Error("Could not initialise LLM client", "error", err)
		os.Exit(1)
	}

	var recaller agent.MemoryRecaller
	if cfg.RedisURL != "" {
		opts, _ := redis.ParseURL(cfg.RedisURL)
		recaller = memory.NewRedisEngine(redis.NewClient(opts), logger)
	} else {
		recaller = memory.NewInProcessEngine(logger)
	}

	driver := agent.NewDriver(agent.DriverConfig{
		MaxIterations: cfg.MaxIterations,
		TurnTimeout:   cfg.TurnTimeout,
		DefaultModel:  cfg.DefaultModel,
		AllowedModels: cfg.AllowedModels,
		DefaultMode:   cfg.ApprovalMode,
		RecallLimit:   cfg.RecallLimit,
	}, llmClient, exec, conversations, recaller, logger)

	// Approval machinery: the controller decides, the sweeper expires.
	controller := approval.NewController(pendings, audits, exec, driver, logger)
	sweeper := approval.NewSweeper(pendings, audits, cfg.SweepInterval, cfg.AuditRetention, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := api.NewServer(api.ServerConfig{
		DefaultModel:  cfg.DefaultModel,
		AllowedModels: cfg.AllowedModels,
	}, driver, controller, conversations, pendings, audits, registry, checks, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + strings.TrimPrefix(cfg.HTTPPort, ":")
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
