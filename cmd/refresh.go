package main

import (
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [intervention-id]",
	Short: "Recompute portfolio scores for changed interventions",
	Long:  "With no arguments, rescans the whole portfolio and recomputes every intervention whose evidence, outcomes, or consent changed since its last score. With an ID, recomputes just that intervention.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			score, err := env.Refresher.One(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(score)
		}

		sum, err := env.Refresher.All(ctx)
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
