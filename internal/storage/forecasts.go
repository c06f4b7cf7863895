package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/comptaflow/ledgercast/internal/common"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
)

// SaveForecasts persists all monthly values of a run's forecasts in one
// transaction. Suppressed months (NaN) are stored as NULL.
func (s *SQLiteStorage) SaveForecasts(ctx context.Context, runID string, forecasts []model.Forecast) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if err := validateForecasts(forecasts); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO forecasts (run_id, account, month, value, kind, method, reconciled, trading_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare forecast insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	qualityStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fit_quality (run_id, account, criterion, seasonality_mode, score,
			trend_flexibility, changepoint_fraction, regularization,
			fourier_order, changepoints, active_changepoints)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare quality insert: %w", err)
	}
	defer func() { _ = qualityStmt.Close() }()

	for i := range forecasts {
		f := &forecasts[i]
		for t, v := range f.Values {
			var value any
			if !math.IsNaN(v) {
				value = v
			}
			month := f.Start.Add(t).String()
			if _, err := stmt.ExecContext(ctx, runID, f.Account, month, value,
				string(f.Kind), string(f.Method), f.Reconciled, f.TradingDay); err != nil {
				return fmt.Errorf("failed to insert forecast %s %s: %w", f.Account, month, err)
			}
		}
		if q := f.Quality; q != nil {
			if _, err := qualityStmt.ExecContext(ctx, runID, f.Account,
				q.Criterion, q.SeasonalityMode, q.Score,
				q.TrendFlexibility, q.ChangepointFraction, q.Regularization,
				q.FourierOrder, q.Changepoints, q.ActiveChangepoints); err != nil {
				return fmt.Errorf("failed to insert fit quality for %s: %w", f.Account, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit forecasts: %w", err)
	}
	return nil
}

// GetForecasts reassembles every forecast of a run, ordered by account.
func (s *SQLiteStorage) GetForecasts(ctx context.Context, runID string) ([]model.Forecast, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account, month, value, kind, method, reconciled, trading_day
		FROM forecasts WHERE run_id = ?
		ORDER BY account, month`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var forecasts []model.Forecast
	var current *model.Forecast
	for rows.Next() {
		var account, month, kind, method string
		var value sql.NullFloat64
		var reconciled, tradingDay bool
		if err := rows.Scan(&account, &month, &value, &kind, &method, &reconciled, &tradingDay); err != nil {
			return nil, fmt.Errorf("failed to scan forecast row: %w", err)
		}

		m, err := series.ParseMonth(month)
		if err != nil {
			return nil, fmt.Errorf("failed to parse forecast month %q: %w", month, err)
		}

		if current == nil || current.Account != account {
			forecasts = append(forecasts, model.Forecast{
				Account:    account,
				Kind:       model.AccountKind(kind),
				Method:     model.Method(method),
				Start:      m,
				Reconciled: reconciled,
				TradingDay: tradingDay,
			})
			current = &forecasts[len(forecasts)-1]
		}

		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		current.Values = append(current.Values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate forecasts: %w", err)
	}

	if err := s.attachQuality(ctx, runID, forecasts); err != nil {
		return nil, err
	}
	return forecasts, nil
}

// GetAccountForecast retrieves one account's forecast from a run.
func (s *SQLiteStorage) GetAccountForecast(ctx context.Context, runID, account string) (*model.Forecast, error) {
	if err := validateString(account, "account"); err != nil {
		return nil, err
	}

	forecasts, err := s.GetForecasts(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range forecasts {
		if forecasts[i].Account == account {
			return &forecasts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: forecast for account %s in run %s", common.ErrNotFound, account, runID)
}

// attachQuality joins stored fit quality records onto their forecasts.
func (s *SQLiteStorage) attachQuality(ctx context.Context, runID string, forecasts []model.Forecast) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, criterion, seasonality_mode, score, trend_flexibility,
			changepoint_fraction, regularization, fourier_order, changepoints,
			active_changepoints
		FROM fit_quality WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to query fit quality: %w", err)
	}
	defer func() { _ = rows.Close() }()

	quality := make(map[string]*model.FitQuality)
	for rows.Next() {
		var account string
		q := &model.FitQuality{}
		if err := rows.Scan(&account, &q.Criterion, &q.SeasonalityMode, &q.Score,
			&q.TrendFlexibility, &q.ChangepointFraction, &q.Regularization,
			&q.FourierOrder, &q.Changepoints, &q.ActiveChangepoints); err != nil {
			return fmt.Errorf("failed to scan fit quality row: %w", err)
		}
		quality[account] = q
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate fit quality: %w", err)
	}

	for i := range forecasts {
		if q, ok := quality[forecasts[i].Account]; ok {
			forecasts[i].Quality = q
		}
	}
	return nil
}
