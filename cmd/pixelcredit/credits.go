package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	obscontext "github.com/smallbiznis/pixelcredit/internal/observability/context"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsAdjustCmd)

	for _, cmd := range []*cobra.Command{creditsGrantCmd, creditsAdjustCmd} {
		cmd.Flags().Int64P("amount", "a", 0, "Credits to apply")
		cmd.Flags().StringP("reason", "r", "", "Reason recorded on the ledger entry")
		cmd.Flags().String("actor", "", "Admin user id to attribute the change to")
		_ = cmd.MarkFlagRequired("amount")
		_ = cmd.MarkFlagRequired("reason")
	}
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Operate on user credit balances",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant USER_ID",
	Short: "Grant credits to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreditChange(cmd, args[0], func(ctx context.Context, svc ledgerdomain.Service, userID snowflake.ID, amount int64, reason string, actor snowflake.ID) (*ledgerdomain.Entry, error) {
			return svc.Grant(ctx, userID, amount, reason, actor)
		})
	},
}

var creditsAdjustCmd = &cobra.Command{
	Use:   "adjust USER_ID",
	Short: "Apply a signed correction to a user's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreditChange(cmd, args[0], func(ctx context.Context, svc ledgerdomain.Service, userID snowflake.ID, amount int64, reason string, actor snowflake.ID) (*ledgerdomain.Entry, error) {
			return svc.Adjust(ctx, userID, amount, reason, actor)
		})
	},
}

type creditChangeFunc func(ctx context.Context, svc ledgerdomain.Service, userID snowflake.ID, amount int64, reason string, actor snowflake.ID) (*ledgerdomain.Entry, error)

func runCreditChange(cmd *cobra.Command, rawUser string, apply creditChangeFunc) error {
	userID, err := snowflake.ParseString(strings.TrimSpace(rawUser))
	if err != nil {
		return fmt.Errorf("invalid user id %q", rawUser)
	}
	amount, _ := cmd.Flags().GetInt64("amount")
	reason, _ := cmd.Flags().GetString("reason")
	rawActor, _ := cmd.Flags().GetString("actor")

	var actor snowflake.ID
	if rawActor = strings.TrimSpace(rawActor); rawActor != "" {
		actor, err = snowflake.ParseString(rawActor)
		if err != nil {
			return fmt.Errorf("invalid actor id %q", rawActor)
		}
	}

	ctx := obscontext.WithActor(cmd.Context(), obscontext.ActorTypeSystem, "cli")
	return runOnce(cmd.Context(), coreModules(), fx.Invoke(func(svc ledgerdomain.Service) error {
		entry, err := apply(ctx, svc, userID, amount, reason, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entry %s: %+d credits, balance %d\n", entry.ID, entry.Amount, entry.BalanceAfter)
		return nil
	}))
}
