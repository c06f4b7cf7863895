package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
	"github.com/comptaflow/ledgercast/internal/service"
)

func TestLedgerActivityEmpty(t *testing.T) {
	assert.Nil(t, ledgerActivity(nil))
	assert.Nil(t, ledgerActivity(map[time.Time]int{}))
}

func TestLedgerActivitySortsChronologically(t *testing.T) {
	march := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

	activity := ledgerActivity(map[time.Time]int{march: 4, jan: 7, feb: 1})

	require.Len(t, activity, 3)
	assert.Equal(t, jan, activity[0].Date)
	assert.Equal(t, 7, activity[0].Count)
	assert.Equal(t, feb, activity[1].Date)
	assert.Equal(t, march, activity[2].Date)
}

// testStore opens a migrated store against a temp database and points the
// global config at it, so initStorage resolves the same file.
func testStore(t *testing.T) service.Storage {
	t.Helper()
	viper.Set("database.path", filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { viper.Set("database.path", "") })

	store, err := initStorage(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestForecastTableLoadsStoredRun(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	run := &model.Run{
		ID:        "run-1",
		Company:   "acme",
		Status:    model.RunStatusCompleted,
		StartedAt: time.Date(2025, 7, 31, 18, 0, 0, 0, time.UTC),
		Horizon:   3,
		Weighting: "ols",
	}
	require.NoError(t, store.SaveRun(ctx, run))

	start := series.MonthOf(2025, time.August)
	forecasts := []model.Forecast{
		{Account: "606400", Kind: model.KindFixedExpense, Method: model.MethodCarryForward,
			Start: start, Values: []float64{100, 100, 100}},
		{Account: "707000", Kind: model.KindRevenue, Method: model.MethodTrendSeasonality,
			Start: start, Values: []float64{900, 950, 1000}, Reconciled: true},
	}
	require.NoError(t, store.SaveForecasts(ctx, run.ID, forecasts))
	require.NoError(t, store.SaveRejections(ctx, run.ID, []model.Rejection{
		{Target: "615", Prefix: "615", Reasons: []string{"insufficient_month_coverage"},
			RoutedTo: model.MethodProportional},
	}))

	table, err := forecastTable(ctx, store, run)
	require.NoError(t, err)
	assert.Equal(t, run.ID, table.Run.ID)
	assert.Equal(t, start, table.Start)
	assert.Len(t, table.Forecasts, 2)
	assert.Len(t, table.Rejected, 1)
}

func TestForecastTableRequiresForecasts(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	run := &model.Run{
		ID:        "empty-run",
		Company:   "acme",
		Status:    model.RunStatusCompleted,
		StartedAt: time.Now(),
		Horizon:   12,
		Weighting: "ols",
	}
	require.NoError(t, store.SaveRun(ctx, run))

	_, err := forecastTable(ctx, store, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stored forecasts")
}
