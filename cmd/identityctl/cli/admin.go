package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-identity/internal/app"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and manage administrator elevation",
	}

	cmd.AddCommand(newAdminStatusCmd())
	cmd.AddCommand(newAdminReconcileCmd())
	cmd.AddCommand(newAdminDeactivateCmd())

	return cmd
}

func newAdminStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show active administrators against the quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				q, err := a.Service.QuotaStatus(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "active: %d\nmax: %d\nreached: %t\n", q.Active, q.Max, q.Reached())
				return nil
			})
		},
	}
}

func newAdminReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recount active administrators into the quota counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				q, err := a.Service.ReconcileQuota(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "active: %d\nmax: %d\n", q.Active, q.Max)
				return nil
			})
		},
	}
}

func newAdminDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <user-id>",
		Short: "Demote an administrator to student and free its quota slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Service.DeactivateAdmin(cmd.Context(), args[0], actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated administrator %s\n", args[0])
				return nil
			})
		},
	}
}
