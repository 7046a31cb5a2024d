package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/api"
	"github.com/justicehub-au/alma-engine/internal/refresh"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoring API server and the scheduled refresher",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := refresh.NewScheduler(env.Refresher, cfg.Refresh.Schedule, zap.L())
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := api.New(
			env.Store, env.Gate, env.Ledger, env.Refresher,
			env.Gaps, env.Comparer, env.Exporter,
			port, cfg.Server.AllowedOrigins, zap.L(),
		)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
