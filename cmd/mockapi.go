package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
	"crmdash/internal/infrastructure/datasource"
)

// mockapiCmd needs no config or storage, so it skips withApp.
var mockapiCmd = &cobra.Command{
	Use:   "mockapi",
	Short: "Serve a deterministic fake lead API for local development",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		count, _ := cmd.Flags().GetInt("leads")
		failStatus, _ := cmd.Flags().GetInt("fail-status")

		addr = strings.TrimSpace(addr)
		if addr == "" {
			addr = ":8089"
		}

		mock := datasource.NewMockServer(datasource.MockOptions{Leads: count, FailStatus: failStatus})
		server := &http.Server{
			Addr:              addr,
			Handler:           mock.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		logging.Info(
			ctx,
			"mock lead api started",
			slog.String("addr", addr),
			slog.String("leads_path", datasource.LeadsPath),
			slog.String("comments_path", datasource.CommentsPath),
			slog.String("tasks_path", datasource.TasksPath),
		)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "mock lead api failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "serve mock lead api")
		}
		logging.Info(ctx, "mock lead api stopped", slog.Int64("requests", mock.Requests()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mockapiCmd)
	mockapiCmd.Flags().String("addr", ":8089", "Listen address")
	mockapiCmd.Flags().Int("leads", 12, "Number of leads returned per identity")
	mockapiCmd.Flags().Int("fail-status", 0, "Answer every lead request with this HTTP status (0 to disable)")
}
