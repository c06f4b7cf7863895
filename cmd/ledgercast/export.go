package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/comptaflow/ledgercast/internal/cli"
	"github.com/comptaflow/ledgercast/internal/common"
	"github.com/comptaflow/ledgercast/internal/config"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/report"
	"github.com/comptaflow/ledgercast/internal/service"
	"github.com/comptaflow/ledgercast/internal/sheets"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Export a stored run to Google Sheets or CSV",
		Long: `Export a stored forecasting run.

Without a run ID the most recent run is exported. The default target is
Google Sheets; configure authentication with 'ledgercast auth sheets' or a
service account first. With --csv the run is written to local files instead.

Examples:
  ledgercast export                      # Latest run to Google Sheets
  ledgercast export --company acme      # Latest run for one company
  ledgercast export 4f6e...             # A specific run
  ledgercast export --csv ./reports     # Local forecasts.csv + metadata.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runExport,
	}

	cmd.Flags().StringP("company", "c", "", "Company whose latest run to export")
	cmd.Flags().String("csv", "", "Write CSV and metadata files under this directory instead of Sheets")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	company, _ := cmd.Flags().GetString("company")
	csvDir, _ := cmd.Flags().GetString("csv")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	run, err := resolveRun(ctx, store, args, company)
	if err != nil {
		return err
	}

	table, err := forecastTable(ctx, store, run)
	if err != nil {
		return err
	}

	writer, err := exportWriter(ctx, csvDir)
	if err != nil {
		return err
	}
	if err := writer.Write(ctx, table); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, cli.FormatSuccess(fmt.Sprintf("Exported run %s (%d accounts)", run.ID, len(table.Forecasts))))
	return nil
}

// resolveRun picks the run to export: an explicit ID wins, otherwise the
// most recent run, optionally narrowed to one company.
func resolveRun(ctx context.Context, store service.Storage, args []string, company string) (*model.Run, error) {
	if len(args) > 0 {
		return store.GetRun(ctx, args[0])
	}
	return store.LatestRun(ctx, company)
}

// exportWriter selects the export target: local CSV files when a directory
// is given, the configured Google Sheets writer otherwise.
func exportWriter(ctx context.Context, csvDir string) (service.ReportWriter, error) {
	if csvDir != "" {
		return report.NewCSVWriter(config.ExpandPath(csvDir), slog.Default()), nil
	}
	return sheetsWriter(ctx)
}

// sheetsWriter builds the Google Sheets report writer from the stored
// configuration.
func sheetsWriter(ctx context.Context) (service.ReportWriter, error) {
	sheetsCfg, err := config.LoadSheetsConfig()
	if err != nil {
		return nil, common.NewUserError(
			"Google Sheets is not configured. Run 'ledgercast auth sheets' or set the GOOGLE_SHEETS_* environment variables",
			err)
	}

	writer, err := sheets.NewWriter(ctx, *sheetsCfg, slog.Default())
	if err != nil {
		return nil, err
	}
	return writer, nil
}
