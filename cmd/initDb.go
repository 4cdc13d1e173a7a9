package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"crmdash/internal/bootstrap"
	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
)

var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize cache storage schema",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "start init-db")

		if err := app.InitSchema(ctx); err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}

		logging.Info(ctx, "init-db finished", slog.String("storage_dsn", app.Config.Storage.DSN))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "cache schema initialized: driver=%s dsn=%s\n", app.Config.Storage.Driver, app.Config.Storage.DSN); err != nil {
			return errs.Wrap(err, "write init-db output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(initDbCmd)
}
