package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/entity"
)

// CreateAnalysisRequest describes an upload about to be analyzed. ID is
// generated when empty.
type CreateAnalysisRequest struct {
	ID        string
	CallerID  string
	FileName  string
	MediaType string
	Size      int64
	ObjectKey string
	Status    constants.JobStatus
}

type AnalysisRepository interface {
	Create(ctx context.Context, req CreateAnalysisRequest) (*entity.Analysis, error)
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, c entity.Completion) error
	Fail(ctx context.Context, id string, f entity.Failure) error
	Get(ctx context.Context, id string) (*entity.Analysis, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Analysis, int, error)
}

type analysisRepository struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

func NewAnalysisRepository(db *DB, logger *slog.Logger) AnalysisRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &analysisRepository{db: db, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

const analysisColumns = `id, status, caller_id, file_name, media_type, size, method, pages, original_length,
		truncated, model, result, error_code, error_message, stage, object_key, created_at, updated_at, finished_at`

func (r *analysisRepository) q(query string) string { return Rebind(r.db.Dialect, query) }

func (r *analysisRepository) Create(ctx context.Context, req CreateAnalysisRequest) (*entity.Analysis, error) {
	now := r.now()
	status := req.Status
	if status == "" {
		status = constants.JobStatusQueued
	}
	id := req.ID
	if id == "" {
		id = ulid.Make().String()
	}
	a := &entity.Analysis{
		ID:        id,
		Status:    status,
		CallerID:  req.CallerID,
		FileName:  req.FileName,
		MediaType: req.MediaType,
		Size:      req.Size,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ObjectKey != "" {
		a.ObjectKey = &req.ObjectKey
	}

	_, err := r.db.SQL.ExecContext(ctx, r.q(`
		INSERT INTO analyses (id, status, caller_id, file_name, media_type, size, object_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, string(a.Status), a.CallerID, a.FileName, a.MediaType, a.Size, a.ObjectKey, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("analysis create failed", "file_name", req.FileName, "error", err)
		return nil, err
	}
	r.logger.Info("analysis created", "id", a.ID, "status", a.Status, "file_name", a.FileName)
	return a, nil
}

func (r *analysisRepository) MarkRunning(ctx context.Context, id string) error {
	return r.update(ctx, id, "running", r.q(`UPDATE analyses SET status = ?, updated_at = ? WHERE id = ?`),
		string(constants.JobStatusRunning), r.now(), id)
}

func (r *analysisRepository) Complete(ctx context.Context, id string, c entity.Completion) error {
	now := r.now()
	return r.update(ctx, id, "complete", r.q(`
		UPDATE analyses
		SET status = ?, method = ?, pages = ?, original_length = ?, truncated = ?, model = ?, result = ?,
		    error_code = NULL, error_message = NULL, stage = NULL, updated_at = ?, finished_at = ?
		WHERE id = ?`),
		string(constants.JobStatusDone), string(c.Method), c.Pages, c.OriginalLength, c.Truncated, c.Model, string(c.Result),
		now, now, id,
	)
}

func (r *analysisRepository) Fail(ctx context.Context, id string, f entity.Failure) error {
	now := r.now()
	return r.update(ctx, id, "fail", r.q(`
		UPDATE analyses
		SET status = ?, error_code = ?, error_message = ?, stage = ?, updated_at = ?, finished_at = ?
		WHERE id = ?`),
		string(constants.JobStatusFailed), f.Code, f.Message, f.Stage, now, now, id,
	)
}

func (r *analysisRepository) update(ctx context.Context, id, op, query string, args ...any) error {
	res, err := r.db.SQL.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("analysis update failed", "op", op, "id", id, "error", err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewAppError(common.CodeNotFound, "analysis "+id+" not found", nil)
	}
	r.logger.Debug("analysis updated", "op", op, "id", id)
	return nil
}

func (r *analysisRepository) Get(ctx context.Context, id string) (*entity.Analysis, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.q(`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`), id)
	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewAppError(common.CodeNotFound, "analysis "+id+" not found", err)
		}
		r.logger.Error("analysis get failed", "id", id, "error", err)
		return nil, err
	}
	return a, nil
}

// List returns a page of analyses, newest first, and the total count.
func (r *analysisRepository) List(ctx context.Context, limit, offset int) ([]*entity.Analysis, int, error) {
	var total int
	if err := r.db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.SQL.QueryContext(ctx, r.q(`SELECT `+analysisColumns+`
		FROM analyses
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]*entity.Analysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(s scanner) (*entity.Analysis, error) {
	var (
		a          entity.Analysis
		status     string
		method     string
		result     sql.NullString
		code       sql.NullString
		message    sql.NullString
		stage      sql.NullString
		objectKey  sql.NullString
		finishedAt sql.NullTime
	)
	if err := s.Scan(
		&a.ID, &status, &a.CallerID, &a.FileName, &a.MediaType, &a.Size, &method, &a.Pages, &a.OriginalLength,
		&a.Truncated, &a.Model, &result, &code, &message, &stage, &objectKey, &a.CreatedAt, &a.UpdatedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	a.Status = constants.JobStatus(status)
	a.Method = constants.ExtractionMethod(method)
	if result.Valid && result.String != "" {
		a.Result = []byte(result.String)
	}
	a.ErrorCode = nullable(code)
	a.ErrorMessage = nullable(message)
	a.Stage = nullable(stage)
	a.ObjectKey = nullable(objectKey)
	if finishedAt.Valid {
		t := finishedAt.Time
		a.FinishedAt = &t
	}
	return &a, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
