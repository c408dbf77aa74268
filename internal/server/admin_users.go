package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
)

const (
	creditModeGrant  = "grant"
	creditModeAdjust = "adjust"
)

// adjustCreditsRequest moves a user's balance. Grant takes a positive amount;
// adjust takes a signed delta.
type adjustCreditsRequest struct {
	Mode   string `json:"mode" binding:"omitempty,oneof=grant adjust"`
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) ListUsers(c *gin.Context) {
	var req userdomain.ListUserRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.userSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	user, err := s.userSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) UpdateUser(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req userdomain.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	user, err := s.userSvc.UpdateProfile(c.Request.Context(), principal.User.ID, id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) DeactivateUser(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	user, err := s.userSvc.Deactivate(c.Request.Context(), principal.User.ID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) ReactivateUser(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	user, err := s.userSvc.Reactivate(c.Request.Context(), principal.User.ID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) AdjustUserCredits(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req adjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		AbortWithError(c, ledgerdomain.ErrReasonRequired)
		return
	}

	ctx := c.Request.Context()
	var (
		entry *ledgerdomain.Entry
		err   error
	)
	if req.Mode == creditModeGrant {
		entry, err = s.ledgerSvc.Grant(ctx, id, req.Amount, reason, principal.User.ID)
	} else {
		entry, err = s.ledgerSvc.Adjust(ctx, id, req.Amount, reason, principal.User.ID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry, "balance": entry.BalanceAfter})
}

func (s *Server) VerifyUserLedger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.ledgerSvc.Verify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
