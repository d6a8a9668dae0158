package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listToolsHandler handles GET /api/v1/tools.
func (s *Server) listToolsHandler(c *gin.Context) {
	specs := s.registry.List()
	out := make([]ToolResponse, 0, len(specs))
	for _, spec := range specs {
		out = append(out, newToolResponse(spec))
	}
	c.JSON(http.StatusOK, out)
}

// listModelsHandler handles GET /api/v1/models. The default model is part
// of the allow-list even when not configured explicitly.
func (s *Server) listModelsHandler(c *gin.Context) {
	models := make([]string, 0, len(s.cfg.AllowedModels)+1)
	models = append(models, s.cfg.DefaultModel)
	for _, m := range s.cfg.AllowedModels {
		if m != s.cfg.DefaultModel {
			models = append(models, m)
		}
	}
	c.JSON(http.StatusOK, ModelsResponse{Models: models, Default: s.cfg.DefaultModel})
}
