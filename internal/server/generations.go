package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	generationdomain "github.com/smallbiznis/pixelcredit/internal/generation/domain"
	obscontext "github.com/smallbiznis/pixelcredit/internal/observability/context"
)

type createGenerationRequest struct {
	Prompt  string `json:"prompt" binding:"required"`
	Variant string `json:"variant" binding:"required"`
}

func (s *Server) CreateGeneration(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	c.Set(obscontext.GinVariantKey, strings.TrimSpace(req.Variant))

	result, err := s.generationSvc.Generate(c.Request.Context(), generationdomain.GenerateRequest{
		UserID:  principal.User.ID,
		Prompt:  req.Prompt,
		Variant: req.Variant,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListGenerations(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req generationdomain.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	req.UserID = principal.User.ID

	resp, err := s.generationSvc.History(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Records, "page_info": resp.PageInfo})
}
