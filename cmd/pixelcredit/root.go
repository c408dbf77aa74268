package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/audit"
	"github.com/smallbiznis/pixelcredit/internal/auth"
	authdomain "github.com/smallbiznis/pixelcredit/internal/auth/domain"
	"github.com/smallbiznis/pixelcredit/internal/authorization"
	"github.com/smallbiznis/pixelcredit/internal/cache"
	"github.com/smallbiznis/pixelcredit/internal/catalog"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/smallbiznis/pixelcredit/internal/events"
	"github.com/smallbiznis/pixelcredit/internal/generation"
	"github.com/smallbiznis/pixelcredit/internal/ledger"
	"github.com/smallbiznis/pixelcredit/internal/observability"
	"github.com/smallbiznis/pixelcredit/internal/pricing"
	"github.com/smallbiznis/pixelcredit/internal/providers"
	"github.com/smallbiznis/pixelcredit/internal/ratelimit"
	"github.com/smallbiznis/pixelcredit/internal/scheduler"
	"github.com/smallbiznis/pixelcredit/internal/user"
	"github.com/smallbiznis/pixelcredit/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var nodeID int64

func init() {
	rootCmd.PersistentFlags().Int64Var(&nodeID, "node", 1, "Snowflake node id for this process")
}

var rootCmd = &cobra.Command{
	Use:          "pixelcredit",
	Short:        "Credit ledger and image generation API",
	SilenceUsage: true,
}

// coreModules is the graph every command shares. Constructors are lazy, so
// commands only pay for what they resolve.
func coreModules() fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,
		events.Module,

		// Functional Domains
		audit.Module,
		user.Module,
		catalog.Module,
		pricing.Module,
		ledger.Module,
		generation.Module,
		providers.Module,
		auth.Module,
		authorization.Module,

		fx.Provide(func(s authdomain.Service) scheduler.SessionPurger { return s }),
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}

// runOnce builds the graph, lets its invokes do the work, then shuts it down.
func runOnce(ctx context.Context, opts ...fx.Option) error {
	app := fx.New(append(opts, fx.NopLogger)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancelStop()
	return app.Stop(stopCtx)
}
