package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// approveHandler handles POST /api/v1/approve: one decision against a
// suspended execution. Approvals dispatch the stored call and resume the
// conversation; rejections feed an error result back to it.
func (s *Server) approveHandler(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.ExecutionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "execution_id is required"})
		return
	}
	if req.Approved == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approved is required"})
		return
	}

	decision, err := s.decider.Decide(c.Request.Context(), req.ExecutionID, *req.Approved)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}
