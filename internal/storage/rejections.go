package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/comptaflow/ledgercast/internal/model"
)

// SaveRejections persists the eligibility rejections of a run.
func (s *SQLiteStorage) SaveRejections(ctx context.Context, runID string, rejections []model.Rejection) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if len(rejections) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rejections (run_id, target, prefix, reasons, routed_to)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare rejection insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rejections {
		if _, err := stmt.ExecContext(ctx, runID, r.Target, r.Prefix,
			strings.Join(r.Reasons, ","), string(r.RoutedTo)); err != nil {
			return fmt.Errorf("failed to insert rejection for %s: %w", r.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rejections: %w", err)
	}
	return nil
}

// GetRejections returns the rejections recorded for a run, in insertion order.
func (s *SQLiteStorage) GetRejections(ctx context.Context, runID string) ([]model.Rejection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT target, prefix, reasons, routed_to
		FROM rejections WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rejections []model.Rejection
	for rows.Next() {
		var r model.Rejection
		var reasons, routedTo string
		if err := rows.Scan(&r.Target, &r.Prefix, &reasons, &routedTo); err != nil {
			return nil, fmt.Errorf("failed to scan rejection row: %w", err)
		}
		if reasons != "" {
			r.Reasons = strings.Split(reasons, ",")
		}
		r.RoutedTo = model.Method(routedTo)
		rejections = append(rejections, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rejections: %w", err)
	}
	return rejections, nil
}
