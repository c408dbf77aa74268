package main

import (
	"github.com/smallbiznis/pixelcredit/internal/migration"
	"github.com/smallbiznis/pixelcredit/internal/scheduler"
	"github.com/smallbiznis/pixelcredit/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-sweeper", false, "Do not run the reservation sweeper in this process")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. The schema is migrated and the catalog seeded before
the listener starts. The reservation sweeper runs in-process unless disabled.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	noSweeper, _ := cmd.Flags().GetBool("no-sweeper")

	opts := []fx.Option{
		coreModules(),
		migration.Module,
		server.Module,
	}
	if !noSweeper {
		opts = append(opts, scheduler.Module)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
