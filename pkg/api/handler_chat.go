package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atlasops/atlas/pkg/agent"
)

// chatHandler handles POST /api/v1/chat: one user message through the
// conversation loop, returning either a terminal reply or a suspension.
func (s *Server) chatHandler(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if len(req.Message) > maxMessageLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("message exceeds maximum length of %d characters", maxMessageLen)})
		return
	}

	result, err := s.driver.Handle(c.Request.Context(), agent.ChatRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		ApprovalMode:   req.ApprovalMode,
		Model:          req.Model,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newChatResponse(result))
}
