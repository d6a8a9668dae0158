package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atlasops/atlas/pkg/agent"
)

// respondError maps domain errors to HTTP status codes in one place.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var (
		unknownTool *agent.UnknownToolError
		badParams   *agent.BadParamsError
		timeout     *agent.TimeoutError
	)
	switch {
	case errors.Is(err, agent.ErrInvalidInput),
		errors.Is(err, agent.ErrBadModel),
		errors.As(err, &unknownTool),
		errors.As(err, &badParams):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, agent.ErrNotFound):
		status = http.StatusNotFound
		message = "resource not found"
	case errors.Is(err, agent.ErrConversationBusy):
		status = http.StatusConflict
		message = "conversation is processing another message"
	case errors.Is(err, agent.ErrAlreadyDecided):
		status = http.StatusConflict
		message = "execution already decided"
	case agent.IsUnreachable(err):
		status = http.StatusBadGateway
		message = "upstream endpoint unreachable"
	case errors.As(err, &timeout):
		status = http.StatusGatewayTimeout
		message = err.Error()
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Unhandled request error", "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}
