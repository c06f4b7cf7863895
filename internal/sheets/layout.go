package sheets

import (
	"math"
	"strings"

	"github.com/comptaflow/ledgercast/internal/service"
)

// Tab titles in the forecast spreadsheet.
const (
	sheetForecast   = "Forecast"
	sheetMethods    = "Methods"
	sheetRejections = "Rejections"
)

var sheetTitles = []string{sheetForecast, sheetMethods, sheetRejections}

// forecastGrid lays out the projection with one row per month and one column
// per account. Suppressed months render as blank cells.
func forecastGrid(table *service.ForecastTable) [][]any {
	header := make([]any, 0, len(table.Forecasts)+1)
	header = append(header, "Month")
	for i := range table.Forecasts {
		header = append(header, table.Forecasts[i].Account)
	}

	rows := make([][]any, 0, table.Horizon+1)
	rows = append(rows, header)

	for t := 0; t < table.Horizon; t++ {
		row := make([]any, 0, len(table.Forecasts)+1)
		row = append(row, table.Start.Add(t).String())
		for i := range table.Forecasts {
			f := &table.Forecasts[i]
			if t >= len(f.Values) || math.IsNaN(f.Values[t]) {
				row = append(row, "")
			} else {
				row = append(row, f.Values[t])
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// methodRows summarizes the run and describes how each account was forecast,
// including the selected trend-seasonality hyperparameters when available.
func methodRows(table *service.ForecastTable) [][]any {
	run := table.Run

	rows := [][]any{
		{"Run", run.ID},
		{"Company", run.Company},
		{"Status", string(run.Status)},
		{"Started", run.StartedAt.Format("2006-01-02 15:04")},
		{"Horizon", run.Horizon},
		{"Weighting", run.Weighting},
		{}, // Empty row
		{"Account", "Kind", "Method", "Reconciled", "Trading Days",
			"Criterion", "Score", "Seasonality", "Fourier Order", "Active Changepoints"},
	}

	for i := range table.Forecasts {
		f := &table.Forecasts[i]
		row := []any{
			f.Account,
			string(f.Kind),
			string(f.Method),
			f.Reconciled,
			f.TradingDay,
		}
		if q := f.Quality; q != nil {
			row = append(row, q.Criterion, q.Score, q.SeasonalityMode,
				q.FourierOrder, q.ActiveChangepoints)
		} else {
			row = append(row, "", "", "", "", "")
		}
		rows = append(rows, row)
	}
	return rows
}

// rejectionRows lists every eligibility rejection with its reroute target.
func rejectionRows(table *service.ForecastTable) [][]any {
	rows := [][]any{
		{"Node", "Hierarchy Prefix", "Reasons", "Routed To"},
	}
	for _, r := range table.Rejected {
		rows = append(rows, []any{
			r.Target,
			r.Prefix,
			strings.Join(r.Reasons, ", "),
			string(r.RoutedTo),
		})
	}
	return rows
}
