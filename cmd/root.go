package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "crmdash",
	Short:        "CRM lead dashboard with a persistent client-side cache",
	Long:         "Lead dashboard CLI powered by Cobra + Viper + GORM(SQLite no-cgo): cache-first lead lookups, cooldown-limited refresh and a terminal dashboard.",
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logger := slog.New(slog.NewTextHandler(rootCmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	ctx = logging.WithLogger(ctx, logger)
	ctx = logging.WithAttrs(ctx, slog.String("app", "crmdash"))

	rootCmd.SetContext(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (default: ./configs/config.yaml or ./config.yaml when present)")
}
