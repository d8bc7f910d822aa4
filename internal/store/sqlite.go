// ABOUTME: SQLite implementation of the account and usage stores
// ABOUTME: Uses database/sql over modernc.org/sqlite or mattn/go-sqlite3 with schema-in-code

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/2389/plangate/internal/plan"
)

// Driver names accepted by NewSQLiteStore.
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverCGO     = "sqlite3" // mattn/go-sqlite3
)

// SQLiteStore implements AccountStore, UsageStore and Pinger using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ AccountStore = (*SQLiteStore)(nil)
	_ UsageStore   = (*SQLiteStore)(nil)
	_ Pinger       = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store at the given path using the named driver.
// An empty driver selects DriverModernc.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, busyTimeoutDSN(driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := NewSQLiteStoreWithDB(db, logger)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "driver", driver, "path", path)
	return s, nil
}

// busyTimeoutDSN makes every pooled connection wait for the write lock instead
// of failing with SQLITE_BUSY. The two drivers spell the option differently.
func busyTimeoutDSN(driver, path string) string {
	if driver == DriverCGO {
		return path + "?_busy_timeout=5000"
	}
	return path + "?_pragma=busy_timeout(5000)"
}

// NewSQLiteStoreWithDB wraps an already-open handle without touching the schema.
func NewSQLiteStoreWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default().With("component", "store")
	}
	return &SQLiteStore{db: db, logger: logger}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			account_id   TEXT PRIMARY KEY,
			email        TEXT NOT NULL DEFAULT '',
			tier         TEXT NOT NULL,
			sub_status   TEXT NOT NULL,
			sub_start    TEXT NOT NULL,
			sub_end      TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (tier IN ('basic', 'pro', 'enterprise')),
			CHECK (sub_status IN ('active', 'inactive', 'cancelled'))
		);

		CREATE TABLE IF NOT EXISTS usage_counters (
			account_id TEXT NOT NULL,
			feature    TEXT NOT NULL,
			period     TEXT NOT NULL,
			count      INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (account_id, feature, period)
		);

		CREATE TABLE IF NOT EXISTS account_audit (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			account_id  TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_account_audit_account ON account_audit(account_id, ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the connection, opening a fresh one if the pool has none alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT account_id, email, tier, sub_status, sub_start, sub_end, created_at, updated_at
		FROM accounts
		WHERE account_id = ?
	`

	var (
		a                                     Account
		tier, status, start, created, updated string
		end                                   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Email, &tier, &status, &start, &end, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	if a.Tier, err = plan.ParseTier(tier); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	if a.Subscription.Status, err = plan.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	if a.Subscription.StartDate, err = time.Parse(time.RFC3339, start); err != nil {
		return nil, fmt.Errorf("parsing sub_start: %w", err)
	}
	if end.Valid {
		t, err := time.Parse(time.RFC3339, end.String)
		if err != nil {
			return nil, fmt.Errorf("parsing sub_end: %w", err)
		}
		a.Subscription.EndDate = &t
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &a, nil
}

// UpsertAccount creates or replaces an account record.
// CreatedAt is preserved for existing rows.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, a *Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	var end *string
	if a.Subscription.EndDate != nil {
		e := a.Subscription.EndDate.UTC().Format(time.RFC3339)
		end = &e
	}

	query := `
		INSERT INTO accounts (account_id, email, tier, sub_status, sub_start, sub_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			email = excluded.email,
			tier = excluded.tier,
			sub_status = excluded.sub_status,
			sub_start = excluded.sub_start,
			sub_end = excluded.sub_end,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.Email,
		string(a.Tier),
		string(a.Subscription.Status),
		a.Subscription.StartDate.UTC().Format(time.RFC3339),
		end,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}

	s.logger.Debug("upserted account", "id", a.ID, "tier", a.Tier, "status", a.Subscription.Status)
	return nil
}
