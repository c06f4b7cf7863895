// Package report writes completed forecasting runs to local files: a
// months-by-accounts CSV grid plus a metadata JSON describing how each
// account was forecast.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/comptaflow/ledgercast/internal/service"
)

// CSVWriter renders forecast tables under dir/<company>/<run-id>/.
type CSVWriter struct {
	logger *slog.Logger
	dir    string
}

// NewCSVWriter creates a writer rooted at dir.
func NewCSVWriter(dir string, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{dir: dir, logger: logger}
}

// Write stores forecasts.csv and metadata.json for the run.
func (w *CSVWriter) Write(ctx context.Context, table *service.ForecastTable) error {
	if table == nil {
		return fmt.Errorf("forecast table is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runDir := filepath.Join(w.dir, table.Run.Company, table.Run.ID)
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	csvPath := filepath.Join(runDir, "forecasts.csv")
	if err := w.writeGrid(csvPath, table); err != nil {
		return err
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	if err := w.writeMetadata(metaPath, table); err != nil {
		return err
	}

	w.logger.Info("wrote csv report",
		"run_id", table.Run.ID,
		"forecasts", csvPath,
		"metadata", metaPath)
	return nil
}

// writeGrid lays out the projection with one row per month and one column per
// account, matching the spreadsheet tab. Suppressed months are empty cells.
func (w *CSVWriter) writeGrid(path string, table *service.ForecastTable) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	cw := csv.NewWriter(f)

	header := make([]string, 0, len(table.Forecasts)+1)
	header = append(header, "month")
	for i := range table.Forecasts {
		header = append(header, table.Forecasts[i].Account)
	}
	if err := cw.Write(header); err != nil {
		_ = f.Close()
		return err
	}

	for t := 0; t < table.Horizon; t++ {
		row := make([]string, 0, len(table.Forecasts)+1)
		row = append(row, table.Start.Add(t).String())
		for i := range table.Forecasts {
			fc := &table.Forecasts[i]
			if t >= len(fc.Values) || math.IsNaN(fc.Values[t]) {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(fc.Values[t], 'f', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			_ = f.Close()
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

type accountMetadata struct {
	AccountType     string   `json:"account_type"`
	ForecastType    string   `json:"forecast_type"`
	Reconciled      bool     `json:"reconciled"`
	TradingDay      bool     `json:"trading_day"`
	Score           *float64 `json:"score,omitempty"`
	SeasonalityMode string   `json:"seasonality_mode,omitempty"`
}

type rejectionMetadata struct {
	Target   string   `json:"target"`
	Prefix   string   `json:"prefix"`
	Reasons  []string `json:"reasons"`
	RoutedTo string   `json:"routed_to"`
}

type runMetadata struct {
	ProcessID     string                     `json:"process_id"`
	Company       string                     `json:"company"`
	Status        string                     `json:"status"`
	StartedAt     time.Time                  `json:"started_at"`
	ForecastStart string                     `json:"forecast_start"`
	Horizon       int                        `json:"horizon"`
	Weighting     string                     `json:"weighting"`
	Accounts      map[string]accountMetadata `json:"accounts"`
	Rejections    []rejectionMetadata        `json:"rejections,omitempty"`
}

func (w *CSVWriter) writeMetadata(path string, table *service.ForecastTable) error {
	meta := runMetadata{
		ProcessID:     table.Run.ID,
		Company:       table.Run.Company,
		Status:        string(table.Run.Status),
		StartedAt:     table.Run.StartedAt,
		ForecastStart: table.Start.String(),
		Horizon:       table.Horizon,
		Weighting:     table.Run.Weighting,
		Accounts:      make(map[string]accountMetadata, len(table.Forecasts)),
	}

	for i := range table.Forecasts {
		fc := &table.Forecasts[i]
		am := accountMetadata{
			AccountType:  string(fc.Kind),
			ForecastType: string(fc.Method),
			Reconciled:   fc.Reconciled,
			TradingDay:   fc.TradingDay,
		}
		if q := fc.Quality; q != nil {
			score := q.Score
			am.Score = &score
			am.SeasonalityMode = q.SeasonalityMode
		}
		meta.Accounts[fc.Account] = am
	}

	for _, r := range table.Rejected {
		meta.Rejections = append(meta.Rejections, rejectionMetadata{
			Target:   r.Target,
			Prefix:   r.Prefix,
			Reasons:  r.Reasons,
			RoutedTo: string(r.RoutedTo),
		})
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
