package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/backtesting-org/dashboard-push/internal/config"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS push_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Repository is the persistent key/value store the dashboard keeps its session in.
// It satisfies security.KeyValueStore.
type Repository struct {
	db *sqlx.DB
}

// withSimpleProtocol makes pgx avoid server-side prepared statements, which do not
// survive poolers such as pgbouncer in transaction mode
func withSimpleProtocol(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "prefer_simple_protocol=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "prefer_simple_protocol=true"
}

// NewRepository connects to Postgres through the pgx stdlib driver
func NewRepository(cfg config.DatabaseConfig) (*Repository, error) {
	db, err := sqlx.Connect("pgx", withSimpleProtocol(cfg.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	return NewRepositoryFromDB(db), nil
}

// NewRepositoryFromDB wraps an existing handle
func NewRepositoryFromDB(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema creates the settings table if it does not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create push_settings: %w", err)
	}
	return nil
}

// Get returns the value stored under key. A missing key is not an error.
func (r *Repository) Get(ctx context.Context, key string) (string, bool, error) {
	setting, err := r.GetSetting(ctx, key)
	if err != nil {
		return "", false, err
	}
	if setting == nil {
		return "", false, nil
	}
	return setting.Value, true, nil
}

// GetSetting returns the full row for key, or nil when absent
func (r *Repository) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var setting Setting
	query := `SELECT key, value, updated_at FROM push_settings WHERE key = $1`

	err := r.db.GetContext(ctx, &setting, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %q: %w", key, err)
	}

	return &setting, nil
}

// Put inserts or replaces the value under key
func (r *Repository) Put(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO push_settings (key, value, updated_at)
		VALUES (:key, :value, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`

	if _, err := r.db.NamedExecContext(ctx, query, Setting{Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to put setting %q: %w", key, err)
	}
	return nil
}

// Delete removes key, used when the operator logs out
func (r *Repository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM push_settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// ListSettings returns every stored setting ordered by key
func (r *Repository) ListSettings(ctx context.Context) ([]Setting, error) {
	var settings []Setting
	query := `SELECT key, value, updated_at FROM push_settings ORDER BY key`

	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}
