package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/pixelcredit/internal/auth/domain"
	"github.com/smallbiznis/pixelcredit/internal/auth/session"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	obscontext "github.com/smallbiznis/pixelcredit/internal/observability/context"
)

// AuthRequired resolves the session cookie into a principal or aborts with 401.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.sessions.Clear(c)
			AbortWithError(c, err)
			return
		}

		actorType := obscontext.ActorTypeUser
		if principal.User.IsAdmin {
			actorType = obscontext.ActorTypeAdmin
		}
		ctx := obscontext.WithActor(c.Request.Context(), actorType, principal.User.ID.String())
		c.Request = c.Request.WithContext(ctx)

		session.SetPrincipal(c, principal)
		c.Next()
	}
}

// AdminRequired enforces the casbin policy for object/action. Deactivated
// admins are refused before the policy is consulted.
func (s *Server) AdminRequired(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := session.PrincipalFrom(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !principal.User.IsActive {
			AbortWithError(c, ledgerdomain.ErrUserInactive)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal.User, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principalOrAbort(c *gin.Context) (*authdomain.Principal, bool) {
	principal, ok := session.PrincipalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return nil, false
	}
	return principal, true
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError(name, "invalid_"+name, "invalid "+name))
		return 0, false
	}
	return id, true
}
