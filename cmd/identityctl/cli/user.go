package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ovaphlow/pitchfork/service-identity/internal/app"
	rbacentity "github.com/ovaphlow/pitchfork/service-identity/internal/rbac/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	cmd.AddCommand(newUserRegisterCmd())
	cmd.AddCommand(newUserUnlockCmd())
	cmd.AddCommand(newUserDeleteCmd())
	cmd.AddCommand(newUserGrantCmd())
	cmd.AddCommand(newUserAuditCmd())

	return cmd
}

// ---------- user register ----------

func newUserRegisterCmd() *cobra.Command {
	var in user.RegisterInput

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an account the same way the API does",
		Example: `  identityctl user register --email 123456789ads@institution.suffix --first Ada --last Lovelace
  identityctl user register --email ada@uni.edu --first Ada --last Lovelace --password 'correct horse'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				pw, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				in.Password = pw
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Service.Register(cmd.Context(), in, user.ClientInfo{UserAgent: actorID})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res.Identity)
			})
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&in.FirstName, "first", "", "first name (required)")
	cmd.Flags().StringVar(&in.LastName, "last", "", "last name (required)")
	cmd.Flags().StringVar(&in.University, "university", "", "university")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (prompted if omitted)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("first")
	cmd.MarkFlagRequired("last")

	return cmd
}

func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--password is required when stdin is not a terminal")
	}
	out := cmd.ErrOrStderr()
	fmt.Fprint(out, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprint(out, "Confirm password: ")
	confirm, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	if string(pw) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pw), nil
}

// ---------- user unlock ----------

func newUserUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <user-id>",
		Short: "Clear the lock and failure counter of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Service.UnlockAccount(cmd.Context(), args[0], actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", args[0])
				return nil
			})
		},
	}
}

// ---------- user delete ----------

func newUserDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete an account and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Service.DeleteUser(cmd.Context(), args[0], actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")

	return cmd
}

// ---------- user grant ----------

func newUserGrantCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:     "grant <user-id> <role>",
		Short:   "Assign a role, optionally for a limited time",
		Example: `  identityctl user grant 1790000000000000000 student --for 720h`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var expiresAt *time.Time
			if ttl > 0 {
				t := time.Now().Add(ttl).UTC()
				expiresAt = &t
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Service.GrantRole(cmd.Context(), args[0], rbacentity.RoleName(args[1]), expiresAt, actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", args[1], args[0])
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "for", 0, "assignment lifetime (default: no expiry)")

	return cmd
}

// ---------- user audit ----------

func newUserAuditCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit <user-id>",
		Short: "Show recent security events of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				events, err := a.Service.AuditTrail(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, events)
				}
				fmt.Fprintf(out, "%-20s %-20s %-8s %s\n", "TIME", "ACTION", "RISK", "RESOURCE")
				for _, e := range events {
					fmt.Fprintf(out, "%-20s %-20s %-8s %s/%s\n",
						e.CreatedAt.UTC().Format(time.DateTime), e.Action, e.RiskLevel, e.ResourceType, e.ResourceID)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
