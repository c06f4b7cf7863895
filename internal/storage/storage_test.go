package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/common"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
	"github.com/comptaflow/ledgercast/internal/service"
)

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func testRun(company string) *model.Run {
	return &model.Run{
		ID:        uuid.New().String(),
		Company:   company,
		Status:    model.RunStatusStarted,
		StartedAt: time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC),
		Horizon:   12,
		Weighting: "ols",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStorage(t)

	// A second migration pass must be a no-op.
	require.NoError(t, store.Migrate(context.Background()))
}

func TestRunRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	run := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "acme", got.Company)
	assert.Equal(t, model.RunStatusStarted, got.Status)
	assert.Equal(t, 12, got.Horizon)
	assert.Equal(t, "ols", got.Weighting)
	assert.Nil(t, got.CompletedAt)
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Second)
}

func TestSaveRunDuplicateID(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	run := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, run))

	err := store.SaveRun(ctx, run)
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestUpdateRun(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	run := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, run))

	completed := run.StartedAt.Add(2 * time.Minute)
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &completed
	run.Accounts = 42
	run.Reconciled = 40
	run.Rejections = 3
	require.NoError(t, store.UpdateRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completed, *got.CompletedAt, time.Second)
	assert.Equal(t, 42, got.Accounts)
	assert.Equal(t, 40, got.Reconciled)
	assert.Equal(t, 3, got.Rejections)
}

func TestUpdateRunNotFound(t *testing.T) {
	store := setupTestStorage(t)

	run := testRun("acme")
	err := store.UpdateRun(context.Background(), run)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStorage(t)

	_, err := store.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	first := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, first))

	second := testRun("acme")
	second.StartedAt = first.StartedAt.Add(time.Hour)
	second.Status = model.RunStatusCompleted
	require.NoError(t, store.SaveRun(ctx, second))

	other := testRun("globex")
	require.NoError(t, store.SaveRun(ctx, other))

	runs, err := store.ListRuns(ctx, service.RunFilter{Company: "acme"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "most recent run first")
	assert.Equal(t, first.ID, runs[1].ID)

	completed, err := store.ListRuns(ctx, service.RunFilter{Status: model.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, second.ID, completed[0].ID)

	limited, err := store.ListRuns(ctx, service.RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLatestRun(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	first := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, first))

	second := testRun("acme")
	second.StartedAt = first.StartedAt.Add(time.Hour)
	require.NoError(t, store.SaveRun(ctx, second))

	latest, err := store.LatestRun(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = store.LatestRun(ctx, "initech")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestForecastRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	run := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, run))

	start := series.MonthOf(2025, time.August)
	forecasts := []model.Forecast{
		{
			Account:    "701100",
			Kind:       model.KindRevenue,
			Method:     model.MethodTrendSeasonality,
			Start:      start,
			Values:     []float64{100.5, 101.25, 99.75, 102},
			Reconciled: true,
			TradingDay: true,
			Quality: &model.FitQuality{
				Criterion:           "aicc",
				SeasonalityMode:     "additive",
				Score:               -12.5,
				TrendFlexibility:    0.05,
				ChangepointFraction: 0.8,
				Regularization:      1,
				FourierOrder:        4,
				Changepoints:        10,
				ActiveChangepoints:  2,
			},
		},
		{
			Account: "601900",
			Kind:    model.KindVariableExpense,
			Method:  model.MethodSparse,
			Start:   start,
			Values:  []float64{450, math.NaN(), math.NaN(), 450},
		},
	}
	require.NoError(t, store.SaveForecasts(ctx, run.ID, forecasts))

	got, err := store.GetForecasts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by account number.
	sparse := got[0]
	assert.Equal(t, "601900", sparse.Account)
	assert.Equal(t, model.MethodSparse, sparse.Method)
	assert.Equal(t, start, sparse.Start)
	require.Len(t, sparse.Values, 4)
	assert.Equal(t, 450.0, sparse.Values[0])
	assert.True(t, math.IsNaN(sparse.Values[1]), "suppressed month survives storage")
	assert.True(t, math.IsNaN(sparse.Values[2]))
	assert.Equal(t, 450.0, sparse.Values[3])
	assert.Nil(t, sparse.Quality)

	revenue := got[1]
	assert.Equal(t, "701100", revenue.Account)
	assert.Equal(t, model.KindRevenue, revenue.Kind)
	assert.True(t, revenue.Reconciled)
	assert.True(t, revenue.TradingDay)
	assert.Equal(t, []float64{100.5, 101.25, 99.75, 102}, revenue.Values)
	require.NotNil(t, revenue.Quality)
	assert.Equal(t, "aicc", revenue.Quality.Criterion)
	assert.Equal(t, 4, revenue.Quality.FourierOrder)
	assert.Equal(t, -12.5, revenue.Quality.Score)
}

func TestGetAccountForecast(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	run := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, run))

	start := series.MonthOf(2025, time.August)
	forecasts := []model.Forecast{
		{Account: "606100", Kind: model.KindFixedExpense, Method: model.MethodCarryForward,
			Start: start, Values: []float64{80, 80, 80}},
	}
	require.NoError(t, store.SaveForecasts(ctx, run.ID, forecasts))

	got, err := store.GetAccountForecast(ctx, run.ID, "606100")
	require.NoError(t, err)
	assert.Equal(t, model.MethodCarryForward, got.Method)
	assert.Equal(t, []float64{80, 80, 80}, got.Values)

	_, err = store.GetAccountForecast(ctx, run.ID, "999999")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRejectionRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	run := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, run))

	rejections := []model.Rejection{
		{Target: "6015", Prefix: "601", Reasons: []string{"history_too_short", "missing_recent_months"}, RoutedTo: model.MethodProportional},
		{Target: "622000", Prefix: "622", Reasons: []string{"no_surviving_candidate"}, RoutedTo: model.MethodProportional},
	}
	require.NoError(t, store.SaveRejections(ctx, run.ID, rejections))

	got, err := store.GetRejections(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "6015", got[0].Target)
	assert.Equal(t, "601", got[0].Prefix)
	assert.Equal(t, []string{"history_too_short", "missing_recent_months"}, got[0].Reasons)
	assert.Equal(t, model.MethodProportional, got[0].RoutedTo)
	assert.Equal(t, "622000", got[1].Target)
}

func TestSaveRejectionsEmptyIsNoop(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	run := testRun("acme")
	require.NoError(t, store.SaveRun(ctx, run))

	require.NoError(t, store.SaveRejections(ctx, run.ID, nil))

	got, err := store.GetRejections(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAccountsUpsert(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	accounts := []model.Account{
		{Number: "601100", Label: "Achats matières premières", Kind: model.KindVariableExpense},
		{Number: "701100", Label: "Ventes de produits finis", Kind: model.KindRevenue},
	}
	require.NoError(t, store.SaveAccounts(ctx, accounts))

	// Re-saving with a changed label updates in place.
	accounts[0].Label = "Achats matières"
	require.NoError(t, store.SaveAccounts(ctx, accounts[:1]))

	got, err := store.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "601100", got[0].Number)
	assert.Equal(t, "Achats matières", got[0].Label)
	assert.Equal(t, model.KindVariableExpense, got[0].Kind)
	assert.Equal(t, "701100", got[1].Number)
}

func TestSaveRunValidation(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	err := store.SaveRun(ctx, nil)
	assert.ErrorIs(t, err, ErrNilParameter)

	run := testRun("acme")
	run.ID = ""
	err = store.SaveRun(ctx, run)
	assert.ErrorIs(t, err, ErrInvalidRun)

	run = testRun("acme")
	run.Status = "BOGUS"
	err = store.SaveRun(ctx, run)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSaveForecastsValidation(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	err := store.SaveForecasts(ctx, "run-1", nil)
	assert.ErrorIs(t, err, ErrNilParameter)

	err = store.SaveForecasts(ctx, "run-1", []model.Forecast{})
	assert.ErrorIs(t, err, ErrEmptySlice)

	err = store.SaveForecasts(ctx, "run-1", []model.Forecast{{Account: "601100"}})
	assert.ErrorIs(t, err, ErrInvalidForecast)

	err = store.SaveForecasts(ctx, "", []model.Forecast{{Account: "601100", Method: model.MethodSparse, Values: []float64{1}}})
	assert.ErrorIs(t, err, ErrEmptyString)
}
