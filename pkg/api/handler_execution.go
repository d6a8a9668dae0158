package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// defaultHistoryLimit bounds GET /executions/history when no limit is
// given.
const defaultHistoryLimit = 100

// listPendingHandler handles GET /api/v1/executions/pending.
func (s *Server) listPendingHandler(c *gin.Context) {
	pending, err := s.pendings.ListPending(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

// listHistoryHandler handles GET /api/v1/executions/history?limit=&conversation_id=.
func (s *Server) listHistoryHandler(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	ctx := c.Request.Context()
	if conversationID := c.Query("conversation_id"); conversationID != "" {
		records, err := s.audits.ListByConversation(ctx, conversationID, limit)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
		return
	}

	records, err := s.audits.List(ctx, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
