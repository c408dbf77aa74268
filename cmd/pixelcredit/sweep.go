package main

import (
	"fmt"

	"github.com/smallbiznis/pixelcredit/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the scheduler jobs once and exit",
	Long: `Settle stale credit reservations and purge expired sessions once.
Useful from cron when serve runs with --no-sweeper.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		err := runOnce(cmd.Context(),
			coreModules(),
			fx.Provide(scheduler.ProvideConfig, scheduler.New),
			fx.Invoke(func(s *scheduler.Scheduler) error {
				return s.RunOnce(cmd.Context())
			}),
		)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sweep complete")
		return nil
	},
}
