package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPricing(c *gin.Context) {
	quotes, err := s.pricing.Quotes(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": quotes})
}

func (s *Server) GetPricing(c *gin.Context) {
	quote, err := s.pricing.PriceFor(c.Request.Context(), c.Param("variant"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}
