package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-identity/internal/app"
)

func newSweepCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire sessions, clear elapsed locks and relay notifications",
		Example: `  identityctl sweep
  identityctl sweep --interval 1m   # run until interrupted`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if interval <= 0 {
					res, err := a.Maintain(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "sessions expired: %d\nlocks cleared: %d\nnotifications relayed: %d\n",
						res.Sessions, res.Locks, res.Relayed)
					return nil
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				fmt.Fprintf(cmd.OutOrStdout(), "sweeping every %s; press Ctrl+C to stop\n", interval)
				a.RunMaintenance(ctx, interval)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat at this interval until interrupted")

	return cmd
}
