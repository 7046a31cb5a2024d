package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage the consent ledger",
}

var (
	grantLevel    string
	grantUses     []string
	grantExpires  string
	grantReview   bool
	consentReason string
)

var consentGrantCmd = &cobra.Command{
	Use:   "grant <entity-type> <entity-id>",
	Short: "Record a consent grant, superseding any active record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if consentReason == "" {
			return eris.New("--reason is required for the audit trail")
		}

		uses := make([]model.Action, len(grantUses))
		for i, u := range grantUses {
			uses[i] = model.Action(u)
		}

		req := store.GrantRequest{
			EntityType:     model.EntityType(args[0]),
			EntityID:       args[1],
			Level:          model.ConsentLevel(grantLevel),
			PermittedUses:  uses,
			RequiresReview: grantReview,
			Actor:          cliCaller().Actor,
			Reason:         consentReason,
		}
		if grantExpires != "" {
			req.ExpiresAt = &grantExpires
		}

		rec, err := env.Ledger.Grant(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <entity-type> <entity-id>",
	Short: "Revoke the active consent record (terminal for that record)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if consentReason == "" {
			return eris.New("--reason is required for the audit trail")
		}

		rec, err := env.Ledger.Revoke(ctx,
			model.EntityType(args[0]), args[1], cliCaller().Actor, consentReason)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var consentHistoryCmd = &cobra.Command{
	Use:   "history <entity-type> <entity-id>",
	Short: "Print the full consent ledger for an entity, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		recs, err := env.Ledger.History(ctx, model.EntityType(args[0]), args[1])
		if err != nil {
			return err
		}
		return printJSON(recs)
	},
}

func init() {
	consentGrantCmd.Flags().StringVar(&grantLevel, "level", "attributed", "consent level (none|anonymous-only|attributed|full|community-only)")
	consentGrantCmd.Flags().StringSliceVar(&grantUses, "uses", []string{"read"}, "permitted uses (read,export,cite,train,publish)")
	consentGrantCmd.Flags().StringVar(&grantExpires, "expires", "", "expiry time, RFC 3339 (default no expiry)")
	consentGrantCmd.Flags().BoolVar(&grantReview, "requires-review", false, "flag for cultural-authority review")
	consentCmd.PersistentFlags().StringVar(&consentReason, "reason", "", "reason recorded in the audit trail")

	consentCmd.AddCommand(consentGrantCmd, consentRevokeCmd, consentHistoryCmd)
	rootCmd.AddCommand(consentCmd)
}
