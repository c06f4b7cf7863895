package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/comptaflow/ledgercast/internal/config"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/service"
	"github.com/comptaflow/ledgercast/internal/storage"
	"github.com/comptaflow/ledgercast/internal/tradingday"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// ledgerActivity converts per-day entry counts into the chronological form
// the trading-day model consumes.
func ledgerActivity(daily map[time.Time]int) []tradingday.Activity {
	if len(daily) == 0 {
		return nil
	}

	activity := make([]tradingday.Activity, 0, len(daily))
	for date, count := range daily {
		activity = append(activity, tradingday.Activity{Date: date, Count: count})
	}
	sort.Slice(activity, func(i, j int) bool {
		return activity[i].Date.Before(activity[j].Date)
	})
	return activity
}

// forecastTable assembles the report view of a stored run.
func forecastTable(ctx context.Context, store service.Storage, run *model.Run) (*service.ForecastTable, error) {
	forecasts, err := store.GetForecasts(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load forecasts: %w", err)
	}
	if len(forecasts) == 0 {
		return nil, fmt.Errorf("run %s has no stored forecasts", run.ID)
	}

	rejections, err := store.GetRejections(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rejections: %w", err)
	}

	return &service.ForecastTable{
		Run:       *run,
		Start:     forecasts[0].Start,
		Horizon:   run.Horizon,
		Forecasts: forecasts,
		Rejected:  rejections,
	}, nil
}
