// Package service defines the contracts between the forecasting engine and
// its collaborators: the persistence layer and the report writers.
package service

import (
	"context"
	"time"

	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
)

// RunFilter defines filtering options for run queries.
type RunFilter struct {
	Company string
	Status  model.RunStatus
	Limit   int
}

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	LatestRun(ctx context.Context, company string) (*model.Run, error)

	// Forecast operations
	SaveForecasts(ctx context.Context, runID string, forecasts []model.Forecast) error
	GetForecasts(ctx context.Context, runID string) ([]model.Forecast, error)
	GetAccountForecast(ctx context.Context, runID, account string) (*model.Forecast, error)

	// Rejection operations
	SaveRejections(ctx context.Context, runID string, rejections []model.Rejection) error
	GetRejections(ctx context.Context, runID string) ([]model.Rejection, error)

	// Account metadata
	SaveAccounts(ctx context.Context, accounts []model.Account) error
	GetAccounts(ctx context.Context) ([]model.Account, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// ForecastTable is the account-by-month view a report writer renders: one
// column per account, one row per forecast month.
type ForecastTable struct {
	Run       model.Run
	Start     series.Month
	Horizon   int
	Forecasts []model.Forecast
	Rejected  []model.Rejection
}

// ReportWriter renders a completed run somewhere a human reads it.
type ReportWriter interface {
	Write(ctx context.Context, table *ForecastTable) error
}

// RetryOptions configures retry behavior for operations against flaky
// backends.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
