package main

import (
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare <intervention-id> <intervention-id> [more-ids...]",
	Short: "Compare interventions side by side",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Comparer.Compare(ctx, cliCaller(), args)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
