package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crmdash/internal/bootstrap"
	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/errs"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Cache-first lead commands",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads for the configured identity",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := app.RequireIdentity(); err != nil {
			return err
		}

		items, err := app.Leads.GetLeads(ctx, app.Identity)
		if err != nil {
			logging.Error(ctx, "list leads failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list leads")
		}
		return printLeads(cmd, items)
	}),
}

var leadsGetCmd = &cobra.Command{
	Use:   "get <lead-id>",
	Short: "Show one lead from the detail cache or the collection",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := app.RequireIdentity(); err != nil {
			return err
		}

		item, ok, err := app.Leads.GetLeadByID(ctx, cmd.Flags().Arg(0), app.Identity)
		if err != nil {
			return errs.Wrap(err, "get lead")
		}
		if !ok {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "lead %s not found\n", cmd.Flags().Arg(0))
			return err
		}
		return printLeads(cmd, []lead.Lead{item})
	}),
}

var leadsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Clear every cache namespace and re-fetch the lead collection",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := app.RequireIdentity(); err != nil {
			return err
		}

		result := app.Scheduler.Manual(ctx)
		if !result.Accepted {
			state := app.Scheduler.State()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "refresh rejected: cooling down for %ds\n", state.CooldownRemainingSeconds)
			return err
		}
		if result.Err != nil {
			return errs.Wrap(result.Err, "refresh leads")
		}
		return printLeads(cmd, result.Leads)
	}),
}

var leadsStatusCmd = &cobra.Command{
	Use:   "status <lead-id> <status>",
	Short: "Optimistically change a lead status in the local cache",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		leadID := cmd.Flags().Arg(0)
		result, err := app.Leads.UpdateLocalStatus(ctx, leadID, lead.Status(cmd.Flags().Arg(1)))
		if err != nil {
			return errs.Wrap(err, "update lead status")
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "lead=%s collection_updated=%t detail_updated=%t\n",
			leadID, result.CollectionUpdated, result.DetailUpdated)
		return err
	}),
}

var leadsCommentsCmd = &cobra.Command{
	Use:   "comments <lead-id>",
	Short: "Show cached or fetched comments for a lead",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		comments, err := app.Leads.GetComments(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "get comments")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), comments)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "id\tauthor\tcreated_at\tbody"); err != nil {
			return errs.Wrap(err, "write comments header")
		}
		for _, comment := range comments {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", comment.ID, comment.Author, comment.CreatedAt, comment.Body); err != nil {
				return errs.Wrap(err, "write comment row")
			}
		}
		return w.Flush()
	}),
}

var leadsTasksCmd = &cobra.Command{
	Use:   "tasks <lead-id>",
	Short: "Show cached or fetched tasks for a lead",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		tasks, err := app.Leads.GetTasks(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "get tasks")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), tasks)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "id\ttitle\tdue\tdone\tassignee"); err != nil {
			return errs.Wrap(err, "write tasks header")
		}
		for _, task := range tasks {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", task.ID, task.Title, task.DueDate, task.Done, task.Assignee); err != nil {
				return errs.Wrap(err, "write task row")
			}
		}
		return w.Flush()
	}),
}

func printLeads(cmd *cobra.Command, items []lead.Lead) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), items)
	}
	return writeLeadTable(cmd.OutOrStdout(), items)
}

func writeLeadTable(out io.Writer, items []lead.Lead) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "id\tname\tcompany\tstatus\tlast_activity"); err != nil {
		return errs.Wrap(err, "write leads header")
	}
	for _, item := range items {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Name, item.Company, item.Status, item.LastActivity); err != nil {
			return errs.Wrap(err, "write lead row")
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(err, "flush leads table")
	}
	_, err := fmt.Fprintf(out, "%d lead(s)\n", len(items))
	return err
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return errs.Wrap(err, "encode json output")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(leadsCmd)
	leadsCmd.AddCommand(leadsListCmd, leadsGetCmd, leadsRefreshCmd, leadsStatusCmd, leadsCommentsCmd, leadsTasksCmd)

	leadsCmd.PersistentFlags().Bool("json", false, "Print JSON instead of a table")
}
