package server

import (
	"net/http"
	"strings"

	"github.com/bluefx/bluefx-server/internal/workflow"
	"github.com/gin-gonic/gin"
)

type generateRequest struct {
	Prompt         string         `json:"prompt"`
	ReferenceImage string         `json:"reference_image"`
	Count          int            `json:"count"`
	Params         map[string]any `json:"params"`
}

func (s *Server) Generate(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	toolID := strings.TrimSpace(c.Param("tool"))
	c.Set("tool_id", toolID)

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.workflowSvc.Generate(c.Request.Context(), workflow.GenerateRequest{
		UserID:         userID,
		ToolID:         toolID,
		Prompt:         req.Prompt,
		ReferenceImage: req.ReferenceImage,
		Count:          req.Count,
		Params:         req.Params,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
