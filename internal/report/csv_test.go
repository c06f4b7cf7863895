package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
	"github.com/comptaflow/ledgercast/internal/service"
)

func testTable() *service.ForecastTable {
	start := series.MonthOf(2025, time.August)
	return &service.ForecastTable{
		Run: model.Run{
			ID:        "run-1",
			Company:   "acme",
			Status:    model.RunStatusCompleted,
			StartedAt: time.Date(2025, 7, 31, 18, 0, 0, 0, time.UTC),
			Horizon:   3,
			Weighting: "ols",
		},
		Start:   start,
		Horizon: 3,
		Forecasts: []model.Forecast{
			{
				Account: "601900",
				Kind:    model.KindVariableExpense,
				Method:  model.MethodSparse,
				Start:   start,
				Values:  []float64{450, math.NaN(), 450},
			},
			{
				Account:    "701100",
				Kind:       model.KindRevenue,
				Method:     model.MethodTrendSeasonality,
				Start:      start,
				Values:     []float64{1000.5, 1010.25, 1020},
				Reconciled: true,
				TradingDay: true,
				Quality: &model.FitQuality{
					Criterion:          "aicc",
					SeasonalityMode:    "additive",
					Score:              -42.1,
					FourierOrder:       4,
					ActiveChangepoints: 1,
				},
			},
		},
		Rejected: []model.Rejection{
			{Target: "6015", Prefix: "601", Reasons: []string{"history_too_short"}, RoutedTo: model.MethodProportional},
		},
	}
}

func TestWriteForecastGrid(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, nil)

	require.NoError(t, w.Write(context.Background(), testTable()))

	f, err := os.Open(filepath.Join(dir, "acme", "run-1", "forecasts.csv"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	// Header plus one row per forecast month.
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"month", "601900", "701100"}, rows[0])
	assert.Equal(t, []string{"2025-08", "450", "1000.5"}, rows[1])
	assert.Equal(t, []string{"2025-09", "", "1010.25"}, rows[2], "suppressed month renders blank")
	assert.Equal(t, []string{"2025-10", "450", "1020"}, rows[3])
}

func TestWriteMetadata(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, nil)

	require.NoError(t, w.Write(context.Background(), testTable()))

	data, err := os.ReadFile(filepath.Join(dir, "acme", "run-1", "metadata.json"))
	require.NoError(t, err)

	var meta runMetadata
	require.NoError(t, json.Unmarshal(data, &meta))

	assert.Equal(t, "run-1", meta.ProcessID)
	assert.Equal(t, "acme", meta.Company)
	assert.Equal(t, "COMPLETED", meta.Status)
	assert.Equal(t, "2025-08", meta.ForecastStart)
	assert.Equal(t, 3, meta.Horizon)

	require.Len(t, meta.Accounts, 2)
	sparse := meta.Accounts["601900"]
	assert.Equal(t, "variable_expense", sparse.AccountType)
	assert.Equal(t, "sparse", sparse.ForecastType)
	assert.Nil(t, sparse.Score, "no fit quality for sparse accounts")

	trend := meta.Accounts["701100"]
	assert.Equal(t, "trend_seasonality", trend.ForecastType)
	assert.True(t, trend.Reconciled)
	require.NotNil(t, trend.Score)
	assert.InDelta(t, -42.1, *trend.Score, 1e-9)
	assert.Equal(t, "additive", trend.SeasonalityMode)

	require.Len(t, meta.Rejections, 1)
	assert.Equal(t, "6015", meta.Rejections[0].Target)
	assert.Equal(t, "proportional", meta.Rejections[0].RoutedTo)
}

func TestWriteNilTable(t *testing.T) {
	w := NewCSVWriter(t.TempDir(), nil)
	require.Error(t, w.Write(context.Background(), nil))
}

func TestWriteCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewCSVWriter(t.TempDir(), nil)
	err := w.Write(ctx, testTable())
	require.ErrorIs(t, err, context.Canceled)
}
