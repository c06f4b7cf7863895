package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/comptaflow/ledgercast/internal/cli"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/service"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored forecasting runs",
		Long:  `List past forecasting runs and inspect what each one produced.`,
	}

	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())

	return cmd
}

func runsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, most recent first",
		RunE:  runRunsList,
	}

	cmd.Flags().StringP("company", "c", "", "Filter by company")
	cmd.Flags().String("status", "", "Filter by status (STARTED, COMPLETED, FAILED)")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")

	return cmd
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	company, _ := cmd.Flags().GetString("company")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(ctx, service.RunFilter{
		Company: company,
		Status:  model.RunStatus(strings.ToUpper(status)),
		Limit:   limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, cli.FormatInfo("No runs found. Run 'ledgercast forecast <fec-dir>' to create one."))
		return nil
	}

	fmt.Fprintln(os.Stdout, cli.FormatTitle(fmt.Sprintf("Forecast runs (%d)", len(runs))))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMPANY\tSTATUS\tSTARTED\tACCOUNTS\tRECONCILED\tREJECTIONS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			run.ID, run.Company, run.Status,
			run.StartedAt.Format("2006-01-02 15:04"),
			run.Accounts, run.Reconciled, run.Rejections)
	}
	return w.Flush()
}

func runsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one run with its per-account methods",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", run.Company)
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	fmt.Fprintf(&b, "Started: %s\n", run.StartedAt.Format("2006-01-02 15:04"))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "Horizon: %d months\n", run.Horizon)
	fmt.Fprintf(&b, "Weighting: %s\n", run.Weighting)
	fmt.Fprintf(&b, "Accounts: %d, reconciled %d, rejections %d", run.Accounts, run.Reconciled, run.Rejections)
	if run.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n\n%s", cli.FormatError(run.ErrorMessage))
	}
	fmt.Fprintln(os.Stdout, cli.RenderBox(fmt.Sprintf("Run %s", run.ID), b.String()))

	forecasts, err := store.GetForecasts(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load forecasts: %w", err)
	}
	if len(forecasts) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tKIND\tMETHOD\tRECONCILED\tTRADING DAYS")
	for i := range forecasts {
		f := &forecasts[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n",
			f.Account, f.Kind, f.Method, f.Reconciled, f.TradingDay)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	rejections, err := store.GetRejections(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load rejections: %w", err)
	}
	if len(rejections) > 0 {
		fmt.Fprintln(os.Stdout)
		fmt.Fprintln(os.Stdout, cli.StyleWarning(fmt.Sprintf("%d eligibility rejections:", len(rejections))))
		for _, r := range rejections {
			fmt.Fprintf(os.Stdout, "  • %s (under %s): %s → %s\n",
				r.Target, r.Prefix, strings.Join(r.Reasons, ", "), r.RoutedTo)
		}
	}

	return nil
}
