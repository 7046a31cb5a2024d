package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "alma-engine",
	Short: "Evidence-based intervention portfolio scoring engine",
	Long:  "Scores youth-justice interventions from five consent-gated signals, maintains the consent ledger, and serves the ranked portfolio over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
