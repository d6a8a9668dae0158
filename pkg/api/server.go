// Package api exposes the engine over HTTP: chat, approval decisions,
// conversation management, execution visibility, and the tool catalog.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/approval"
	"github.com/atlasops/atlas/pkg/store"
	"github.com/atlasops/atlas/pkg/tools"
)

// ChatDriver is the conversation entry point. Implemented by agent.Driver.
type ChatDriver interface {
	Handle(ctx context.Context, req agent.ChatRequest) (*agent.ChatResult, error)
}

// ApprovalDecider applies approve/reject decisions. Implemented by
// approval.Controller.
type ApprovalDecider interface {
	Decide(ctx context.Context, executionID string, approved bool) (*approval.Decision, error)
}

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// ServerConfig carries the API's own settings.
type ServerConfig struct {
	DefaultModel  string
	AllowedModels []string
}

// Server wires handlers to the driver, the approval controller, and the
// stores.
type Server struct {
	cfg           ServerConfig
	driver        ChatDriver
	decider       ApprovalDecider
	conversations agent.ConversationStore
	pendings      store.PendingStore
	audits        store.AuditStore
	registry      *tools.Registry
	checks        map[string]HealthCheck
	logger        *slog.Logger

	httpServer *http.Server
}

// NewServer builds the server. checks may be nil.
func NewServer(
	cfg ServerConfig,
	driver ChatDriver,
	decider ApprovalDecider,
	conversations agent.ConversationStore,
	pendings store.PendingStore,
	audits store.AuditStore,
	registry *tools.Registry,
	checks map[string]HealthCheck,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:           cfg,
		driver:        driver,
		decider:       decider,
		conversations: conversations,
		pendings:      pendings,
		audits:        audits,
		registry:      registry,
		checks:        checks,
		logger:        logger.With("component", "api"),
	}
}

// Router assembles the gin engine with middleware and all routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(s.logger), gin.Recovery(), securityHeaders())

	router.GET("/health", s.healthHandler)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/chat", s.chatHandler)
		v1.POST("/approve", s.approveHandler)
		v1.GET("/conversations", s.listConversationsHandler)
		v1.GET("/conversations/:id", s.getConversationHandler)
		v1.DELETE("/conversations/:id", s.deleteConversationHandler)
		v1.GET("/executions/pending", s.listPendingHandler)
		v1.GET("/executions/history", s.listHistoryHandler)
		v1.GET("/tools", s.listToolsHandler)
		v1.GET("/models", s.listModelsHandler)
	}
	return router
}

// Start begins serving on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
