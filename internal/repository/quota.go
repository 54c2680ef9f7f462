package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/labwise/internal/quota"
)

// QuotaRepository is a quota.Store backed by the quota_counters table, so
// limits hold across restarts and replicas sharing a database.
type QuotaRepository struct {
	db     *DB
	logger *slog.Logger
}

var _ quota.Store = (*QuotaRepository)(nil)

func NewQuotaRepository(db *DB, logger *slog.Logger) *QuotaRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaRepository{db: db, logger: logger}
}

func (r *QuotaRepository) Get(ctx context.Context, key string) (quota.Record, bool, error) {
	rec, err := r.selectRecord(ctx, r.db.SQL, key, false)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Record{}, false, nil
	}
	if err != nil {
		return quota.Record{}, false, err
	}
	return rec, true, nil
}

// Update reads, applies fn and upserts inside one transaction. On postgres
// the row is locked for the duration.
func (r *QuotaRepository) Update(ctx context.Context, key string, fn func(quota.Record, bool) quota.Record) (quota.Record, error) {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return quota.Record{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := r.selectRecord(ctx, tx, key, r.db.Dialect == DriverPostgres)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		r.logger.Error("quota read failed", "caller", key, "error", err)
		return quota.Record{}, err
	}

	rec = fn(rec, found)

	var blocked any
	if !rec.BlockedUntil.IsZero() {
		blocked = rec.BlockedUntil.UTC()
	}
	_, err = tx.ExecContext(ctx, Rebind(r.db.Dialect, `
		INSERT INTO quota_counters (caller, count, reset_at, blocked_until)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (caller) DO UPDATE
		SET count = excluded.count, reset_at = excluded.reset_at, blocked_until = excluded.blocked_until`),
		key, rec.Count, rec.ResetAt.UTC(), blocked,
	)
	if err != nil {
		r.logger.Error("quota write failed", "caller", key, "error", err)
		return quota.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return quota.Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// Sweep deletes counters whose window and block have both ended.
func (r *QuotaRepository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	res, err := r.db.SQL.ExecContext(ctx, Rebind(r.db.Dialect, `
		DELETE FROM quota_counters
		WHERE reset_at < ? AND (blocked_until IS NULL OR blocked_until < ?)`), now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *QuotaRepository) selectRecord(ctx context.Context, q queryRower, key string, lock bool) (quota.Record, error) {
	query := `SELECT count, reset_at, blocked_until FROM quota_counters WHERE caller = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		rec     quota.Record
		blocked sql.NullTime
	)
	if err := q.QueryRowContext(ctx, Rebind(r.db.Dialect, query), key).Scan(&rec.Count, &rec.ResetAt, &blocked); err != nil {
		return quota.Record{}, err
	}
	if blocked.Valid {
		rec.BlockedUntil = blocked.Time
	}
	return rec, nil
}
