// Package cli implements identityctl, the operator tool for the identity
// service database.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/app"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// actorID is recorded in audit details for changes made from the command line.
const actorID = "identityctl"

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identityctl",
		Short: "Operate the identity service database",
		Long: `identityctl runs migrations and maintenance against the identity database and
performs the administrative actions the HTTP API exposes to administrators.

Settings come from the same environment as the server (.env is loaded when
present). IDENTITY_DATABASE_URL, IDENTITY_DATABASE_DRIVER and IDENTITY_LOG_LEVEL,
or the matching keys in identityctl.yaml, take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./identityctl.yaml)")
	cmd.PersistentFlags().String("db-url", "", "database URL or SQLite path")
	cmd.PersistentFlags().String("db-driver", "", "database driver: postgres, pgx or sqlite")
	cmd.PersistentFlags().String("log-level", "", "log level (default warn)")

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newAdminCmd())

	return cmd
}

func initConfig(cmd *cobra.Command) error {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("identityctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("IDENTITY")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	for key, flag := range map[string]string{
		"database_url":    "db-url",
		"database_driver": "db-driver",
		"log_level":       "log-level",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	viper.SetDefault("log_level", "warn")
	return nil
}

// databaseConfig starts from DATABASE_* and applies the identityctl overrides.
func databaseConfig() database.Config {
	cfg := database.ConfigFromEnv()
	if v := viper.GetString("database_driver"); v != "" {
		cfg.Driver = v
	}
	if v := viper.GetString("database_url"); v != "" {
		cfg.DSN = v
	}
	return cfg
}

func newLogger() (*zap.SugaredLogger, error) {
	lg, err := utilities.Init(utilities.Config{Level: viper.GetString("log_level"), Dev: true})
	if err != nil {
		return nil, err
	}
	return lg.Sugar(), nil
}

func openDB(ctx context.Context) (*sqlx.DB, error) {
	db, err := database.Connect(databaseConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// withApp opens the database, builds the service and runs fn with it.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.ConfigFromEnv()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := app.New(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
