package main

import (
	"github.com/spf13/cobra"

	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

var (
	gapsGeography []string
	gapsType      string
)

func reportFilter() store.InterventionFilter {
	return store.InterventionFilter{
		Geography: gapsGeography,
		Type:      model.InterventionType(gapsType),
	}
}

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Report evidence gaps across the scored portfolio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Gaps.Find(ctx, cliCaller(), reportFilter())
		if err != nil {
			return err
		}
		return printJSON(rep)
	},
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Summarize the scored portfolio by recommendation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		a, err := env.Gaps.Overview(ctx, cliCaller(), reportFilter())
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

func init() {
	for _, c := range []*cobra.Command{gapsCmd, overviewCmd} {
		c.Flags().StringSliceVar(&gapsGeography, "geography", nil, "filter by region tags")
		c.Flags().StringVar(&gapsType, "type", "", "filter by intervention type")
	}
	rootCmd.AddCommand(gapsCmd, overviewCmd)
}
