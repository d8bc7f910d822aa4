// ABOUTME: SQLite implementation for per-period usage counters
// ABOUTME: Backs quota checks for metered features

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetUsage returns the counter for (account, feature, period), zero if absent.
func (s *SQLiteStore) GetUsage(ctx context.Context, accountID, feature, period string) (int, error) {
	query := `
		SELECT count FROM usage_counters
		WHERE account_id = ? AND feature = ? AND period = ?
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, accountID, feature, period).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying usage: %w", err)
	}
	return count, nil
}

// IncrementUsage adds one to the counter and returns the new value.
func (s *SQLiteStore) IncrementUsage(ctx context.Context, accountID, feature, period string) (int, error) {
	query := `
		INSERT INTO usage_counters (account_id, feature, period, count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (account_id, feature, period) DO UPDATE SET
			count = count + 1,
			updated_at = excluded.updated_at
		RETURNING count
	`

	var count int
	err := s.db.QueryRowContext(ctx, query,
		accountID, feature, period, time.Now().UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing usage: %w", err)
	}

	s.logger.Debug("incremented usage",
		"account_id", accountID,
		"feature", feature,
		"period", period,
		"count", count,
	)
	return count, nil
}

// ReserveUsage increments the counter only if it is below limit. The upsert's
// WHERE clause makes check and increment one statement, so concurrent callers
// cannot both take the last use.
func (s *SQLiteStore) ReserveUsage(ctx context.Context, accountID, feature, period string, limit int) (int, bool, error) {
	if limit <= 0 {
		n, err := s.GetUsage(ctx, accountID, feature, period)
		return n, false, err
	}

	query := `
		INSERT INTO usage_counters (account_id, feature, period, count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (account_id, feature, period) DO UPDATE SET
			count = count + 1,
			updated_at = excluded.updated_at
		WHERE usage_counters.count < ?
		RETURNING count
	`

	var count int
	err := s.db.QueryRowContext(ctx, query,
		accountID, feature, period, time.Now().UTC().Format(time.RFC3339), limit,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		n, err := s.GetUsage(ctx, accountID, feature, period)
		return n, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("reserving usage: %w", err)
	}

	s.logger.Debug("reserved usage", "account_id", accountID, "feature", feature, "period", period, "count", count)
	return count, true, nil
}

// ReleaseUsage decrements the counter, stopping at zero.
func (s *SQLiteStore) ReleaseUsage(ctx context.Context, accountID, feature, period string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET count = count - 1, updated_at = ?
		WHERE account_id = ? AND feature = ? AND period = ? AND count > 0
	`, time.Now().UTC().Format(time.RFC3339), accountID, feature, period)
	if err != nil {
		return fmt.Errorf("releasing usage: %w", err)
	}
	return nil
}
