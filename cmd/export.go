package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the scored portfolio to a spreadsheet",
	Long:  "Writes one row per intervention whose consent permits export. Read access alone is not enough; entities granted read but not export are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close()

		n, err := env.Exporter.Portfolio(ctx, cliCaller(), reportFilter(), f)
		if err != nil {
			return err
		}

		zap.L().Info("export written",
			zap.String("path", exportOut),
			zap.Int("rows", n))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "portfolio.xlsx", "output file path")
	exportCmd.Flags().StringSliceVar(&gapsGeography, "geography", nil, "filter by region tags")
	exportCmd.Flags().StringVar(&gapsType, "type", "", "filter by intervention type")
	rootCmd.AddCommand(exportCmd)
}
