package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/comptaflow/ledgercast/internal/common"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/service"
)

// SaveRun inserts a new run record.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *model.Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, company, status, started_at, completed_at, horizon,
			weighting, accounts, reconciled, rejections, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Company, string(run.Status), run.StartedAt, nullableTime(run.CompletedAt),
		run.Horizon, run.Weighting, run.Accounts, run.Reconciled, run.Rejections,
		run.ErrorMessage)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: run %s", common.ErrDuplicateEntry, run.ID)
		}
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// UpdateRun replaces the mutable fields of an existing run record.
func (s *SQLiteStorage) UpdateRun(ctx context.Context, run *model.Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, completed_at = ?, accounts = ?, reconciled = ?,
			rejections = ?, error_message = ?
		WHERE id = ?`,
		string(run.Status), nullableTime(run.CompletedAt), run.Accounts,
		run.Reconciled, run.Rejections, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: run %s", common.ErrNotFound, run.ID)
	}
	return nil
}

// GetRun retrieves a run by its ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, company, status, started_at, completed_at, horizon,
			weighting, accounts, reconciled, rejections, error_message
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, most recent first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter service.RunFilter) ([]model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, company, status, started_at, completed_at, horizon,
			weighting, accounts, reconciled, rejections, error_message
		FROM runs WHERE 1=1`
	args := []any{}

	if filter.Company != "" {
		query += " AND company = ?"
		args = append(args, filter.Company)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently started run for a company.
func (s *SQLiteStorage) LatestRun(ctx context.Context, company string) (*model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	runs, err := s.ListRuns(ctx, service.RunFilter{Company: company, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no runs for company %q", common.ErrNotFound, company)
	}
	return &runs[0], nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var status string
	var completedAt sql.NullTime
	var weighting, errorMessage sql.NullString

	err := row.Scan(&run.ID, &run.Company, &status, &run.StartedAt, &completedAt,
		&run.Horizon, &weighting, &run.Accounts, &run.Reconciled, &run.Rejections,
		&errorMessage)
	if err != nil {
		return nil, err
	}

	run.Status = model.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Weighting = weighting.String
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
