package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	authdomain "github.com/smallbiznis/pixelcredit/internal/auth/domain"
	"github.com/smallbiznis/pixelcredit/internal/auth/session"
	"github.com/smallbiznis/pixelcredit/internal/authorization"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	generationdomain "github.com/smallbiznis/pixelcredit/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"github.com/smallbiznis/pixelcredit/internal/observability"
	obsmiddleware "github.com/smallbiznis/pixelcredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pixelcredit/internal/observability/metrics"
	obstracing "github.com/smallbiznis/pixelcredit/internal/observability/tracing"
	"github.com/smallbiznis/pixelcredit/internal/pricing"
	"github.com/smallbiznis/pixelcredit/internal/providers/pdf"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

// NewEngine builds the gin engine with the shared middleware chain and ops routes.
// httpMetrics may be nil in tests.
func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, conn *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(classifyErrorForLog))
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if conn != nil {
			if sqlDB, err := conn.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	clock         clock.Clock
	authsvc       authdomain.Service
	sessions      *session.Manager
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	userSvc       userdomain.Service
	catalog       catalogdomain.Store
	pricing       pricing.Resolver
	ledgerSvc     ledgerdomain.Service
	generationSvc generationdomain.Service
	statements    pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Clock         clock.Clock
	Authsvc       authdomain.Service
	Sessions      *session.Manager
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	UserSvc       userdomain.Service
	Catalog       catalogdomain.Store
	Pricing       pricing.Resolver
	LedgerSvc     ledgerdomain.Service
	GenerationSvc generationdomain.Service
	Statements    pdf.Provider `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		clock:         clk,
		authsvc:       p.Authsvc,
		sessions:      p.Sessions,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		userSvc:       p.UserSvc,
		catalog:       p.Catalog,
		pricing:       p.Pricing,
		ledgerSvc:     p.LedgerSvc,
		generationSvc: p.GenerationSvc,
		statements:    p.Statements,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/register", s.Register)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Pricing --------
	api.GET("/pricing", s.ListPricing)
	api.GET("/pricing/:variant", s.GetPricing)

	api.Use(s.AuthRequired())

	// -------- Generations --------
	api.POST("/generations", s.CreateGeneration)
	api.GET("/generations", s.ListGenerations)

	// -------- Credits --------
	api.GET("/credits", s.GetCredits)
	api.GET("/credits/entries", s.ListCreditEntries)
	api.GET("/credits/statement.pdf", s.CreditStatementPDF)
	api.POST("/credits/purchase", s.PurchaseCredits)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	// -------- Catalog --------
	admin.GET("/catalog", s.AdminRequired(authorization.ObjectCatalog, authorization.ActionView), s.GetCatalog)
	admin.POST("/services", s.AdminRequired(authorization.ObjectCatalog, authorization.ActionManage), s.CreateService)
	admin.PATCH("/services/:id", s.AdminRequired(authorization.ObjectCatalog, authorization.ActionManage), s.UpdateService)
	admin.POST("/services/:id/activate", s.AdminRequired(authorization.ObjectCatalog, authorization.ActionManage), s.ActivateService)
	admin.POST("/services/:id/deactivate", s.AdminRequired(authorization.ObjectCatalog, authorization.ActionManage), s.DeactivateService)

	// -------- Settings --------
	admin.PUT("/settings", s.AdminRequired(authorization.ObjectSettings, authorization.ActionManage), s.UpdateSettings)
	admin.GET("/settings/versions", s.AdminRequired(authorization.ObjectSettings, authorization.ActionView), s.ListSettingsVersions)
	admin.PUT("/promotions", s.AdminRequired(authorization.ObjectSettings, authorization.ActionManage), s.ReplacePromotions)

	// -------- Users --------
	admin.GET("/users", s.AdminRequired(authorization.ObjectUser, authorization.ActionView), s.ListUsers)
	admin.GET("/users/:id", s.AdminRequired(authorization.ObjectUser, authorization.ActionView), s.GetUser)
	admin.PATCH("/users/:id", s.AdminRequired(authorization.ObjectUser, authorization.ActionManage), s.UpdateUser)
	admin.POST("/users/:id/deactivate", s.AdminRequired(authorization.ObjectUser, authorization.ActionManage), s.DeactivateUser)
	admin.POST("/users/:id/reactivate", s.AdminRequired(authorization.ObjectUser, authorization.ActionManage), s.ReactivateUser)
	admin.POST("/users/:id/credits", s.AdminRequired(authorization.ObjectCredits, authorization.ActionManage), s.AdjustUserCredits)
	admin.GET("/users/:id/ledger/verify", s.AdminRequired(authorization.ObjectCredits, authorization.ActionView), s.VerifyUserLedger)

	admin.GET("/audit-logs", s.AdminRequired(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
	admin.GET("/stats", s.AdminRequired(authorization.ObjectStats, authorization.ActionView), s.GetStats)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
