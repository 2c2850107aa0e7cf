// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	ReportsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pool from cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables used by ReportStore and JobStore.
func Migrate(ctx context.Context, db DB, reportsTable string) error {
	table, err := tableName(reportsTable)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	link            TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	industry        TEXT NOT NULL DEFAULT '',
	rating          TEXT NOT NULL DEFAULT '',
	org             TEXT NOT NULL DEFAULT '',
	publish_date    TEXT NOT NULL DEFAULT '',
	abstract        TEXT NOT NULL DEFAULT '',
	body_text       TEXT NOT NULL,
	extraction_rule TEXT NOT NULL DEFAULT '',
	strategy        TEXT NOT NULL DEFAULT '',
	content_length  INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table),
		`
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	submitted_at    TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ,
	error_text      TEXT NOT NULL DEFAULT '',
	listing_url     TEXT NOT NULL,
	max_reports     INTEGER NOT NULL,
	stubs_found     INTEGER NOT NULL DEFAULT 0,
	reports_saved   INTEGER NOT NULL DEFAULT 0,
	reports_skipped INTEGER NOT NULL DEFAULT 0,
	reports_failed  INTEGER NOT NULL DEFAULT 0
)`,
		`
CREATE TABLE IF NOT EXISTS crawl_job_reports (
	seq             BIGSERIAL PRIMARY KEY,
	job_id          TEXT NOT NULL REFERENCES crawl_jobs (id),
	link            TEXT NOT NULL,
	title           TEXT NOT NULL,
	industry        TEXT NOT NULL DEFAULT '',
	rating          TEXT NOT NULL DEFAULT '',
	org             TEXT NOT NULL DEFAULT '',
	publish_date    TEXT NOT NULL DEFAULT '',
	abstract        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	strategy        TEXT NOT NULL DEFAULT '',
	extraction_rule TEXT NOT NULL DEFAULT '',
	content_length  INTEGER NOT NULL DEFAULT 0,
	message_id      TEXT NOT NULL DEFAULT '',
	error_text      TEXT NOT NULL DEFAULT '',
	recorded_at     TIMESTAMPTZ NOT NULL
)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func tableName(name string) (string, error) {
	if name == "" {
		name = "reports"
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}
