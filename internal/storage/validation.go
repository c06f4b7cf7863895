// Package storage provides the SQLite persistence layer for forecasting
// runs, per-account projections and eligibility rejections.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comptaflow/ledgercast/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrEmptySlice      = errors.New("slice cannot be empty")
	ErrInvalidRun      = errors.New("invalid run")
	ErrInvalidForecast = errors.New("invalid forecast")
	ErrInvalidAccount  = errors.New("invalid account")
	ErrInvalidStatus   = errors.New("invalid run status")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRun validates a run record before it is written.
func validateRun(run *model.Run) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if run.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRun)
	}
	if run.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRun)
	}
	switch run.Status {
	case model.RunStatusStarted, model.RunStatusCompleted, model.RunStatusFailed:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, run.Status)
	}
	return nil
}

// validateForecasts validates a slice of forecasts.
func validateForecasts(forecasts []model.Forecast) error {
	if forecasts == nil {
		return fmt.Errorf("%w: forecasts", ErrNilParameter)
	}
	if len(forecasts) == 0 {
		return fmt.Errorf("%w: forecasts", ErrEmptySlice)
	}

	for i := range forecasts {
		if err := validateForecast(&forecasts[i]); err != nil {
			return fmt.Errorf("forecast at index %d: %w", i, err)
		}
	}
	return nil
}

// validateForecast validates a single forecast.
func validateForecast(f *model.Forecast) error {
	if f == nil {
		return fmt.Errorf("%w: forecast", ErrNilParameter)
	}
	if f.Account == "" {
		return fmt.Errorf("%w: missing account", ErrInvalidForecast)
	}
	if len(f.Values) == 0 {
		return fmt.Errorf("%w: no forecast values", ErrInvalidForecast)
	}
	if f.Method == "" {
		return fmt.Errorf("%w: missing method", ErrInvalidForecast)
	}
	return nil
}

// validateAccount validates an account metadata record.
func validateAccount(a *model.Account) error {
	if a == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if strings.TrimSpace(a.Number) == "" {
		return fmt.Errorf("%w: missing number", ErrInvalidAccount)
	}
	if a.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidAccount)
	}
	return nil
}
