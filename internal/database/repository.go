package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"spreadwatch/internal/config"
	"spreadwatch/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	LogSpreadAlert(ctx context.Context, alert model.SpreadAlert) error
	RecentSpreadAlerts(ctx context.Context, symbol string, limit int) ([]model.SpreadAlert, error)
}

const createSpreadAlertsSQL = `
CREATE TABLE IF NOT EXISTS spread_alerts (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	symbol VARCHAR(32) NOT NULL,
	high_venue VARCHAR(32) NOT NULL,
	low_venue VARCHAR(32) NOT NULL,
	high_price NUMERIC(30, 10) NOT NULL,
	low_price NUMERIC(30, 10) NOT NULL,
	spread_percent NUMERIC(12, 6) NOT NULL
);
CREATE INDEX IF NOT EXISTS spread_alerts_symbol_timestamp_idx ON spread_alerts (symbol, timestamp DESC);`

// PostgresRepository stores spread alerts in PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPool opens a connection pool and verifies connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ConnString builds a postgres:// URL from cfg.
func ConnString(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.DBName,
	}
	return u.String()
}

// Migrate creates the spread_alerts table if needed.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createSpreadAlertsSQL); err != nil {
		return fmt.Errorf("migrate spread_alerts: %w", err)
	}
	return nil
}

// LogSpreadAlert inserts one alert.
func (r *PostgresRepository) LogSpreadAlert(ctx context.Context, alert model.SpreadAlert) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO spread_alerts (id, timestamp, symbol, high_venue, low_venue, high_price, low_price, spread_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.Timestamp, alert.Symbol, string(alert.HighVenue), string(alert.LowVenue),
		alert.HighPrice, alert.LowPrice, alert.SpreadPercent,
	)
	if err != nil {
		return fmt.Errorf("insert spread alert: %w", err)
	}
	return nil
}

// RecentSpreadAlerts returns up to limit alerts, newest first. An empty symbol
// matches every symbol.
func (r *PostgresRepository) RecentSpreadAlerts(ctx context.Context, symbol string, limit int) ([]model.SpreadAlert, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, timestamp, symbol, high_venue, low_venue, high_price, low_price, spread_percent
		FROM spread_alerts
		WHERE $1::text = '' OR symbol = $1
		ORDER BY timestamp DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query spread alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.SpreadAlert
	for rows.Next() {
		var (
			a         model.SpreadAlert
			high, low string
		)
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Symbol, &high, &low, &a.HighPrice, &a.LowPrice, &a.SpreadPercent); err != nil {
			return nil, fmt.Errorf("scan spread alert: %w", err)
		}
		a.HighVenue, a.LowVenue = model.Venue(high), model.Venue(low)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
