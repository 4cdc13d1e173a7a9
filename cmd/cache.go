package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crmdash/internal/bootstrap"
	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
	"crmdash/internal/usecase/leadcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the lead cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts per namespace and the storage footprint",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		stats := app.Cache.Stats(ctx)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "namespace\tkey\tentries"); err != nil {
			return errs.Wrap(err, "write cache stats header")
		}
		for _, item := range stats.Namespaces {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%d\n", item.Namespace, item.Namespace.StorageKey(), item.Entries); err != nil {
				return errs.Wrap(err, "write cache stats row")
			}
		}
		if err := w.Flush(); err != nil {
			return errs.Wrap(err, "flush cache stats")
		}

		options := app.Cache.Options()
		schemaVersion, ok := app.SchemaVersion(ctx)
		if !ok {
			schemaVersion = "-"
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "bytes=%d ceiling=%d ttl=%s max_entries=%d schema_version=%s\n",
			stats.Bytes, options.SizeCeiling, options.TTL, options.MaxEntries, schemaVersion)
		return err
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache namespace",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		app.Cache.ClearAll(ctx)
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
		return err
	}),
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <leads|details|comments|tasks> [lead-id]",
	Short: "Remove one namespace entry, or the lead collection",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		ns, ok := leadcache.ParseNamespace(cmd.Flags().Arg(0))
		if !ok {
			return fmt.Errorf("unknown namespace %q", cmd.Flags().Arg(0))
		}
		if ns == leadcache.NamespaceLeads {
			app.Cache.InvalidateLeads(ctx)
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "invalidated leads")
			return err
		}

		leadID := strings.TrimSpace(cmd.Flags().Arg(1))
		if leadID == "" {
			return fmt.Errorf("namespace %s requires a lead id", ns)
		}
		app.Cache.Invalidate(ctx, ns, leadID)
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s/%s\n", ns, leadID)
		return err
	}),
}

var cacheHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Drop expired entries, enforce bounds and the size ceiling",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		report := app.Cache.HealthCheck(ctx)
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "expired=%d evicted=%d cleared=%t bytes=%d\n",
			report.Expired, report.Evicted, report.Cleared, report.Bytes)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheInvalidateCmd, cacheHealthCmd)
}
