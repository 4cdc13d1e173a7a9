package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"crmdash/internal/bootstrap"
	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
	"crmdash/internal/usecase/dashboard"
)

var consoleDashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the lead dashboard",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		if err := app.RequireIdentity(); err != nil {
			return err
		}

		logFile, _ := cmd.Flags().GetString("log-file")
		if strings.TrimSpace(logFile) == "" {
			logFile = app.Config.Log.File
		}
		file, err := openLogFile(logFile)
		if err != nil {
			return err
		}
		defer file.Close()

		// stderr would corrupt the alt screen, so the dashboard logs to a file.
		logger, err := logging.New(file, app.Config.Log.Format, app.Config.Log.Level)
		if err != nil {
			return errs.Wrap(err, "configure dashboard logger")
		}
		ctx := logging.WithLogger(cmd.Context(), logger)
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		monitorCtx, stopMonitor := context.WithCancel(ctx)
		defer stopMonitor()
		go func() {
			_ = app.Monitor.Run(monitorCtx)
		}()

		model := dashboard.New(ctx, dashboard.Options{
			Identity:   app.Identity,
			Service:    app.Leads,
			Scheduler:  app.Scheduler,
			Visibility: app.Monitor,
			Counters:   app.Metrics,
		})

		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run lead dashboard")
		}
		return nil
	}),
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrapf(err, "create log directory %q", dir)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrapf(err, "open log file %q", path)
	}
	return file, nil
}

func init() {
	consoleCmd.AddCommand(consoleDashboardCmd)
	consoleDashboardCmd.Flags().String("log-file", "", "Log destination (default: log.file from config)")
}
