package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/config"
)

var weightsFile string

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Manage scoring weight sets",
}

var weightsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import weight sets from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		sets, err := config.LoadWeightSets(weightsFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, ws := range sets {
			stored, err := st.EnsureWeightSet(ctx, ws)
			if err != nil {
				return err
			}
			zap.L().Info("weight set available",
				zap.String("name", stored.Name),
				zap.String("id", stored.ID))
		}
		return nil
	},
}

func init() {
	weightsImportCmd.Flags().StringVar(&weightsFile, "file", "weights.yaml", "weight set YAML file")
	weightsCmd.AddCommand(weightsImportCmd)
	rootCmd.AddCommand(weightsCmd)
}
