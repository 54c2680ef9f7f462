package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

var tables = []string{"analyses", "quota_counters"}

type migrationStep struct {
	Name     string
	Postgres string
	SQLite   string
}

var steps = []migrationStep{
	{
		Name: "create_table_analyses",
		Postgres: `CREATE TABLE IF NOT EXISTS analyses (
  id              TEXT        PRIMARY KEY,
  status          TEXT        NOT NULL,
  caller_id       TEXT        NOT NULL DEFAULT '',
  file_name       TEXT        NOT NULL,
  media_type      TEXT        NOT NULL,
  size            BIGINT      NOT NULL CHECK (size >= 0),
  method          TEXT        NOT NULL DEFAULT '',
  pages           INTEGER     NOT NULL DEFAULT 0,
  original_length INTEGER     NOT NULL DEFAULT 0,
  truncated       BOOLEAN     NOT NULL DEFAULT FALSE,
  model           TEXT        NOT NULL DEFAULT '',
  result          JSONB,
  error_code      TEXT,
  error_message   TEXT,
  stage           TEXT,
  object_key      TEXT,
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL,
  finished_at     TIMESTAMPTZ
);`,
		SQLite: `CREATE TABLE IF NOT EXISTS analyses (
  id              TEXT     PRIMARY KEY,
  status          TEXT     NOT NULL,
  caller_id       TEXT     NOT NULL DEFAULT '',
  file_name       TEXT     NOT NULL,
  media_type      TEXT     NOT NULL,
  size            INTEGER  NOT NULL CHECK (size >= 0),
  method          TEXT     NOT NULL DEFAULT '',
  pages           INTEGER  NOT NULL DEFAULT 0,
  original_length INTEGER  NOT NULL DEFAULT 0,
  truncated       BOOLEAN  NOT NULL DEFAULT 0,
  model           TEXT     NOT NULL DEFAULT '',
  result          TEXT,
  error_code      TEXT,
  error_message   TEXT,
  stage           TEXT,
  object_key      TEXT,
  created_at      DATETIME NOT NULL,
  updated_at      DATETIME NOT NULL,
  finished_at     DATETIME
);`,
	},
	{
		Name:     "create_index_analyses_created_at",
		Postgres: `CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses (created_at);`,
		SQLite:   `CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses (created_at);`,
	},
	{
		Name: "create_table_quota_counters",
		Postgres: `CREATE TABLE IF NOT EXISTS quota_counters (
  caller        TEXT        PRIMARY KEY,
  count         INTEGER     NOT NULL,
  reset_at      TIMESTAMPTZ NOT NULL,
  blocked_until TIMESTAMPTZ
);`,
		SQLite: `CREATE TABLE IF NOT EXISTS quota_counters (
  caller        TEXT     PRIMARY KEY,
  count         INTEGER  NOT NULL,
  reset_at      DATETIME NOT NULL,
  blocked_until DATETIME
);`,
	},
}

// Migrate applies every step. Steps are idempotent, so it runs on each start.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	for _, s := range steps {
		q := s.SQLite
		if db.Dialect == DriverPostgres {
			q = s.Postgres
		}
		if _, err := db.SQL.ExecContext(ctx, q); err != nil {
			logger.Error("db.migration.failed", "step", s.Name, "error", err)
			return fmt.Errorf("migration %s: %w", s.Name, err)
		}
	}
	logger.Info("db.migration.ok", "steps", len(steps), "duration_ms", time.Since(start).Milliseconds())
	return nil
}
