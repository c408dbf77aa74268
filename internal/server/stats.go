package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetStats(c *gin.Context) {
	stats, err := s.generationSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
