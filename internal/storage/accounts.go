package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/comptaflow/ledgercast/internal/model"
)

// SaveAccounts upserts account metadata records.
func (s *SQLiteStorage) SaveAccounts(ctx context.Context, accounts []model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO account_metadata (number, label, kind, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(number) DO UPDATE SET
			label = excluded.label,
			kind = excluded.kind,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("failed to prepare account upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range accounts {
		a := &accounts[i]
		if err := validateAccount(a); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, a.Number, a.Label, string(a.Kind)); err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", a.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit accounts: %w", err)
	}
	return nil
}

// GetAccounts returns all stored account metadata ordered by account number.
func (s *SQLiteStorage) GetAccounts(ctx context.Context) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT number, label, kind
		FROM account_metadata
		ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var label sql.NullString
		if err := rows.Scan(&a.Number, &label, &a.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		a.Label = label.String
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}
