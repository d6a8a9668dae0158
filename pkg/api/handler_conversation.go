package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listConversationsHandler handles GET /api/v1/conversations.
func (s *Server) listConversationsHandler(c *gin.Context) {
	summaries, err := s.conversations.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// getConversationHandler handles GET /api/v1/conversations/:id.
func (s *Server) getConversationHandler(c *gin.Context) {
	conv, err := s.conversations.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConversationResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Messages:       conv.Turns,
	})
}

// deleteConversationHandler handles DELETE /api/v1/conversations/:id.
func (s *Server) deleteConversationHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.conversations.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
