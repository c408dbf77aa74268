package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
)

type settingsVersionsQuery struct {
	Limit int `form:"limit" binding:"omitempty,gte=1,lte=100"`
}

type replacePromotionsRequest struct {
	Promotions []catalogdomain.PromotionInput `json:"promotions" binding:"required,dive"`
}

func (s *Server) GetCatalog(c *gin.Context) {
	catalog, err := s.catalog.GetCatalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, catalog)
}

func (s *Server) UpdateSettings(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req catalogdomain.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	settings, err := s.catalog.UpdateSettings(c.Request.Context(), principal.User.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) ListSettingsVersions(c *gin.Context) {
	var query settingsVersionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	versions, err := s.catalog.ListSettingsVersions(c.Request.Context(), query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": versions})
}

func (s *Server) CreateService(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req catalogdomain.CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	svc, err := s.catalog.CreateService(c.Request.Context(), principal.User.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, svc)
}

func (s *Server) UpdateService(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req catalogdomain.UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	svc, err := s.catalog.UpdateService(c.Request.Context(), principal.User.ID, id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (s *Server) ActivateService(c *gin.Context) {
	s.setServiceActive(c, true)
}

func (s *Server) DeactivateService(c *gin.Context) {
	s.setServiceActive(c, false)
}

func (s *Server) setServiceActive(c *gin.Context, active bool) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	svc, err := s.catalog.SetServiceActive(c.Request.Context(), principal.User.ID, id, active)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (s *Server) ReplacePromotions(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req replacePromotionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	promotions, err := s.catalog.ReplacePromotions(c.Request.Context(), principal.User.ID, req.Promotions)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": promotions})
}
