package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/engine"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
)

func TestSummaryContent(t *testing.T) {
	result := &engine.Result{
		Run: model.Run{
			Company:    "acme",
			Horizon:    12,
			Accounts:   42,
			Reconciled: 30,
			Rejections: 3,
		},
		Start: series.MonthOf(2025, time.July),
		Counts: model.MethodCounts{
			model.MethodTrendSeasonality: 30,
			model.MethodCarryForward:     8,
			model.MethodSparse:           4,
		},
	}

	content := summaryContent(result, 90*time.Second)

	assert.Contains(t, content, "Company: acme")
	assert.Contains(t, content, "Forecast start: 2025-07")
	assert.Contains(t, content, "Accounts forecast: 42")
	assert.Contains(t, content, "trend_seasonality: 30")
	assert.Contains(t, content, "Time taken: 1m30s")
}

func TestAccountsFromForecasts(t *testing.T) {
	forecasts := []model.Forecast{
		{Account: "606400", Kind: model.KindFixedExpense},
		{Account: "707000", Kind: model.KindRevenue},
	}

	accounts := accountsFromForecasts(forecasts)

	require.Len(t, accounts, 2)
	assert.Equal(t, "606400", accounts[0].Number)
	assert.Equal(t, model.KindFixedExpense, accounts[0].Kind)
	assert.Equal(t, model.KindRevenue, accounts[1].Kind)
}

func TestClassificationTableDefaultsToNil(t *testing.T) {
	viper.Set("forecast.classification", "")

	table, err := classificationTable()
	require.NoError(t, err)
	assert.Nil(t, table)
}

func TestClassificationTableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classification.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,type\n42,fix\n"), 0o600))
	viper.Set("forecast.classification", path)
	t.Cleanup(func() { viper.Set("forecast.classification", "") })

	table, err := classificationTable()
	require.NoError(t, err)
	require.NotNil(t, table)

	kind, err := table.Kind("42000")
	require.NoError(t, err)
	assert.Equal(t, model.KindFixedExpense, kind)
}

func TestClassificationTableBadPath(t *testing.T) {
	viper.Set("forecast.classification", filepath.Join(t.TempDir(), "missing.csv"))
	t.Cleanup(func() { viper.Set("forecast.classification", "") })

	_, err := classificationTable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load classification table")
}
