package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListArtifacts(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.artifactSvc.List(c.Request.Context(), artifactdomain.ListRequest{
		UserID:     userID,
		ToolID:     strings.TrimSpace(c.Query("tool_id")),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteArtifact(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid artifact id"))
		return
	}

	if err := s.artifactSvc.Delete(c.Request.Context(), userID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
