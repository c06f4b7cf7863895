package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/comptaflow/ledgercast/internal/classify"
	"github.com/comptaflow/ledgercast/internal/cli"
	"github.com/comptaflow/ledgercast/internal/config"
	"github.com/comptaflow/ledgercast/internal/engine"
	"github.com/comptaflow/ledgercast/internal/fec"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
	"github.com/comptaflow/ledgercast/internal/service"
)

func forecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast [fec-dir]",
		Short: "Forecast the next months of every ledger account",
		Long: `Forecast French general-ledger accounts from FEC exports.

The directory must contain the FEC files of one company. Each class 6 and 7
account is classified by its booking pattern, forecast with the method its
history supports, and reconciled against its hierarchy.

Examples:
  ledgercast forecast ./exports/acme
  ledgercast forecast ./exports/acme --company acme --cutoff 2025-06
  ledgercast forecast ./exports/acme --export`,
		Args: cobra.ExactArgs(1),
		RunE: runForecast,
	}

	// Flags
	cmd.Flags().StringP("company", "c", "", "Company label for the run (default: directory name)")
	cmd.Flags().String("cutoff", "", "Last month of history to use (format: 2025-06)")
	cmd.Flags().Int("horizon", 12, "Number of months to forecast")
	cmd.Flags().Int("workers", 4, "Concurrent hierarchy workers")
	cmd.Flags().String("weighting", "ols", "Reconciliation weighting (ols, structural, wlsv, shrinkage, sample)")
	cmd.Flags().Bool("trading-day", true, "Normalize revenue accounts by trading days")
	cmd.Flags().String("classification", "", "CSV file overriding the built-in account classification table")
	cmd.Flags().Bool("export", false, "Export the forecast to Google Sheets")
	cmd.Flags().Bool("dry-run", false, "Run without persisting results")

	// Bind to viper (errors are rare and can be ignored in practice)
	_ = viper.BindPFlag("forecast.company", cmd.Flags().Lookup("company"))
	_ = viper.BindPFlag("forecast.cutoff", cmd.Flags().Lookup("cutoff"))
	_ = viper.BindPFlag("forecast.classification", cmd.Flags().Lookup("classification"))
	_ = viper.BindPFlag("engine.horizon", cmd.Flags().Lookup("horizon"))
	_ = viper.BindPFlag("engine.workers", cmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("engine.weighting", cmd.Flags().Lookup("weighting"))
	_ = viper.BindPFlag("engine.trading_day", cmd.Flags().Lookup("trading-day"))

	return cmd
}

func runForecast(cmd *cobra.Command, args []string) error {
	handler := cli.NewInterruptHandler(os.Stdout)
	ctx := handler.HandleInterrupts(cmd.Context(), true)

	dir := args[0]
	company := viper.GetString("forecast.company")
	if company == "" {
		company = filepath.Base(filepath.Clean(dir))
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	export, _ := cmd.Flags().GetBool("export")

	slog.Info("loading FEC exports", "dir", dir)
	ledger, err := fec.Load(dir, fec.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	slog.Info("ledger loaded",
		"accounts", len(ledger.Accounts),
		"cutoff", ledger.Cutoff.String())

	engCfg, err := config.LoadEngineConfig()
	if err != nil {
		return err
	}

	input := engine.Input{
		Company:  company,
		Accounts: ledger.Accounts,
		Activity: ledgerActivity(ledger.Daily),
	}
	if cutoffStr := viper.GetString("forecast.cutoff"); cutoffStr != "" {
		cutoff, parseErr := series.ParseMonth(cutoffStr)
		if parseErr != nil {
			return fmt.Errorf("invalid cutoff (use YYYY-MM): %w", parseErr)
		}
		input.Cutoff = cutoff
	}

	table, err := classificationTable()
	if err != nil {
		return err
	}

	bar := cli.NewProgressBar(os.Stderr, len(ledger.Accounts), "Forecasting accounts...")
	engCfg.Progress = func(done, total int) {
		bar.ChangeMax(total)
		_ = bar.Set(done)
	}

	eng := engine.New(engCfg, table, nil)
	started := time.Now()
	result, err := eng.Run(ctx, input)
	if err != nil {
		if errors.Is(err, context.Canceled) && handler.WasInterrupted() {
			return nil
		}
		if !dryRun {
			recordFailedRun(company, engCfg.Horizon, string(engCfg.Weighting), started, err)
		}
		return fmt.Errorf("forecast failed: %w", err)
	}

	fmt.Fprintln(os.Stdout, cli.RenderBox("Forecast Complete", summaryContent(result, time.Since(started))))

	if dryRun {
		slog.Info("dry run; results were not saved")
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	if err := store.SaveRun(ctx, &result.Run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if len(result.Forecasts) > 0 {
		if err := store.SaveForecasts(ctx, result.Run.ID, result.Forecasts); err != nil {
			return fmt.Errorf("failed to save forecasts: %w", err)
		}
	}
	if err := store.SaveRejections(ctx, result.Run.ID, result.Rejections); err != nil {
		return fmt.Errorf("failed to save rejections: %w", err)
	}
	if err := store.SaveAccounts(ctx, accountsFromForecasts(result.Forecasts)); err != nil {
		return fmt.Errorf("failed to save account metadata: %w", err)
	}

	slog.Info("run saved", "run_id", result.Run.ID)

	if export {
		writer, err := sheetsWriter(ctx)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		table := &service.ForecastTable{
			Run:       result.Run,
			Start:     result.Start,
			Horizon:   result.Run.Horizon,
			Forecasts: result.Forecasts,
			Rejected:  result.Rejections,
		}
		if err := writer.Write(ctx, table); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
	}

	return nil
}

// classificationTable loads the table named by --classification, or returns
// nil so the engine falls back to the bundled French chart of accounts.
func classificationTable() (*classify.Table, error) {
	path := viper.GetString("forecast.classification")
	if path == "" {
		return nil, nil
	}
	table, err := classify.LoadFile(config.ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load classification table: %w", err)
	}
	return table, nil
}

// recordFailedRun stores an audit record for a run that aborted. The run
// context may already be dead, so persistence gets a fresh one.
func recordFailedRun(company string, horizon int, weighting string, started time.Time, runErr error) {
	ctx := context.Background()
	store, err := initStorage(ctx)
	if err != nil {
		slog.Warn("could not record failed run", "error", err)
		return
	}
	defer func() { _ = store.Close() }()

	run := &model.Run{
		ID:           uuid.New().String(),
		Company:      company,
		Status:       model.RunStatusFailed,
		StartedAt:    started,
		Horizon:      horizon,
		Weighting:    weighting,
		ErrorMessage: runErr.Error(),
	}
	if err := store.SaveRun(ctx, run); err != nil {
		slog.Warn("could not record failed run", "error", err)
	}
}

func summaryContent(result *engine.Result, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", result.Run.Company)
	fmt.Fprintf(&b, "Forecast start: %s\n", result.Start.String())
	fmt.Fprintf(&b, "Horizon: %d months\n\n", result.Run.Horizon)
	fmt.Fprintf(&b, "Accounts forecast: %d\n", result.Run.Accounts)
	fmt.Fprintf(&b, "Reconciled: %d\n", result.Run.Reconciled)
	fmt.Fprintf(&b, "Rejections: %d\n", result.Run.Rejections)

	if len(result.Counts) > 0 {
		fmt.Fprintf(&b, "\nMethods:\n")
		methods := make([]string, 0, len(result.Counts))
		for m := range result.Counts {
			methods = append(methods, string(m))
		}
		sort.Strings(methods)
		for _, m := range methods {
			fmt.Fprintf(&b, "  • %s: %d\n", m, result.Counts[model.Method(m)])
		}
	}

	fmt.Fprintf(&b, "\nTime taken: %s", elapsed.Round(time.Second))
	return b.String()
}

func accountsFromForecasts(forecasts []model.Forecast) []model.Account {
	accounts := make([]model.Account, 0, len(forecasts))
	for i := range forecasts {
		accounts = append(accounts, model.Account{
			Number: forecasts[i].Account,
			Kind:   forecasts[i].Kind,
		})
	}
	return accounts
}
