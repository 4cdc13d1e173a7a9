package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"crmdash/internal/bootstrap"
	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
	"crmdash/internal/usecase/refresh"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the auto-refresh loop and periodic cache health checks headless",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := app.RequireIdentity(); err != nil {
			return err
		}

		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			if err := app.Scheduler.SetInterval(interval); err != nil {
				return errs.Wrap(err, "set refresh interval")
			}
		}
		app.Scheduler.SetAutoRefresh(true)
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		initial, err := app.Leads.GetLeads(ctx, app.Identity)
		if err != nil {
			logging.Warn(ctx, "initial lead load failed", slog.Any("err", errs.Loggable(err)))
		} else {
			logging.Info(ctx, "initial leads loaded", slog.Int("count", len(initial)))
		}

		state := app.Scheduler.State()
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "watching identity=%s interval=%s (ctrl-c to stop)\n",
			app.Identity.String(), time.Duration(state.IntervalMs)*time.Millisecond); err != nil {
			return errs.Wrap(err, "write watch banner")
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return app.Scheduler.Run(groupCtx, func(result refresh.Result) {
				reportRefresh(cmd, result)
			})
		})
		group.Go(func() error {
			if err := app.Monitor.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		if addr := strings.TrimSpace(metricsAddr); addr != "" {
			group.Go(func() error {
				return serveMetrics(groupCtx, addr, app)
			})
		}

		if err := group.Wait(); err != nil {
			return errs.Wrap(err, "watch loop")
		}
		return nil
	}),
}

func reportRefresh(cmd *cobra.Command, result refresh.Result) {
	if result.Err != nil {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s refresh failed: %v\n", time.Now().Format(time.TimeOnly), result.Trigger, result.Err)
		return
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s refresh: %d lead(s)\n", time.Now().Format(time.TimeOnly), result.Trigger, len(result.Leads))
}

// serveMetrics exposes the cache counters until ctx is done.
func serveMetrics(ctx context.Context, addr string, app *bootstrap.App) error {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "cmd.watch"), slog.String("addr", addr))

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(app.Metrics.Registry(), promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logging.Info(logCtx, "metrics server started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error(logCtx, "metrics server failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "serve metrics")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("interval", 0, "Auto refresh interval (1m|5m|10m|15m, default from config)")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus cache metrics on this address (empty to disable)")
}
