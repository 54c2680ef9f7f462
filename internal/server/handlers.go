package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/oklog/ulid/v2"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/analysis"
	"github.com/joseph-ayodele/labwise/internal/async"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/entity"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
	"github.com/joseph-ayodele/labwise/internal/quota"
	"github.com/joseph-ayodele/labwise/internal/repository"
	"github.com/joseph-ayodele/labwise/internal/storage"
)

const extractedTextPreview = 1000

type extractionInfo struct {
	Strategy       constants.Strategy         `json:"strategy"`
	Method         constants.ExtractionMethod `json:"method,omitempty"`
	Pages          int                        `json:"pages"`
	OriginalLength int                        `json:"original_length"`
	Truncated      bool                       `json:"truncated"`
	Warnings       []string                   `json:"warnings,omitempty"`
}

type analyzeResponse struct {
	RequestID     string                  `json:"request_id"`
	ID            string                  `json:"id,omitempty"`
	Analysis      analysis.AnalysisResult `json:"analysis"`
	Extraction    extractionInfo          `json:"extraction"`
	ExtractedText string                  `json:"extracted_text"`
	Model         string                  `json:"model,omitempty"`
	DurationMS    int64                   `json:"duration_ms"`
}

func (s *Server) analyze(c *fiber.Ctx) error {
	ctx, caller, err := s.admit(c)
	if err != nil {
		return writeAppError(c, err)
	}
	doc, err := readUpload(c)
	if err != nil {
		return writeAppError(c, err)
	}

	var rec *entity.Analysis
	if s.deps.Analyses != nil {
		if rec, err = s.createRecord(ctx, doc, caller, constants.JobStatusRunning); err != nil {
			return writeAppError(c, err)
		}
	}

	out, err := s.deps.Analyzer.Analyze(ctx, doc)
	if err != nil {
		if rec != nil {
			s.recordFailure(rec.ID, err)
		}
		return writeAppError(c, err)
	}

	resp := analyzeResponse{
		RequestID: requestIDFromCtx(c),
		Analysis:  out.Result,
		Extraction: extractionInfo{
			Strategy:       out.Strategy,
			Method:         out.Extraction.Method,
			Pages:          out.Extraction.Pages,
			OriginalLength: out.Extraction.OriginalLength,
			Truncated:      out.Truncated.Truncated,
			Warnings:       out.Extraction.Warnings,
		},
		ExtractedText: preview(out.Extraction.Text, extractedTextPreview),
		Model:         out.Model,
		DurationMS:    out.Duration.Milliseconds(),
	}
	if rec != nil {
		resp.ID = rec.ID
		s.recordCompletion(rec.ID, out)
	}
	return c.JSON(resp)
}

func (s *Server) analyzeAsync(c *fiber.Ctx) error {
	if s.deps.Analyses == nil || s.deps.Queue == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "NOT_ENABLED", "asynchronous analysis needs a configured database")
	}
	ctx, caller, err := s.admit(c)
	if err != nil {
		return writeAppError(c, err)
	}
	doc, err := readUpload(c)
	if err != nil {
		return writeAppError(c, err)
	}
	rec, err := s.createRecord(ctx, doc, caller, constants.JobStatusQueued)
	if err != nil {
		return writeAppError(c, err)
	}

	err = s.deps.Queue.Enqueue(ctx, async.Job{
		AnalysisID:  rec.ID,
		Document:    doc,
		CallerID:    caller,
		RequestID:   requestIDFromCtx(c),
		SubmittedAt: time.Now(),
	})
	if err != nil {
		s.recordFailure(rec.ID, common.NewAppError(common.CodeInternal, err.Error(), err))
		if errors.Is(err, async.ErrQueueFull) || errors.Is(err, async.ErrQueueClosed) {
			c.Set(fiber.HeaderRetryAfter, "30")
			return writeError(c, fiber.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error())
		}
		return writeAppError(c, err)
	}

	c.Location("/api/analyses/" + rec.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"request_id": requestIDFromCtx(c),
		"id":         rec.ID,
		"status":     rec.Status,
	})
}

func (s *Server) listAnalyses(c *fiber.Ctx) error {
	if s.deps.Analyses == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "NOT_ENABLED", "analysis history needs a configured database")
	}
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		return writeError(c, fiber.StatusBadRequest, common.CodeInvalidInput, "limit must be between 1 and 100")
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		return writeError(c, fiber.StatusBadRequest, common.CodeInvalidInput, "offset must be a non-negative integer")
	}

	items, total, err := s.deps.Analyses.List(c.UserContext(), limit, offset)
	if err != nil {
		s.logger.Error("http.list_analyses.failed", "request_id", requestIDFromCtx(c), "error", err)
		return writeAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) getAnalysis(c *fiber.Ctx) error {
	a, err := s.lookup(c)
	if err != nil {
		return writeAppError(c, err)
	}
	return c.JSON(a)
}

func (s *Server) exportAnalysis(c *fiber.Ctx) error {
	if s.deps.Analyses == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "NOT_ENABLED", "analysis history needs a configured database")
	}
	id, err := analysisID(c)
	if err != nil {
		return writeAppError(c, err)
	}
	b, err := s.deps.Exporter.AnalysisXLSX(c.UserContext(), id)
	if err != nil {
		return writeAppError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="labwise-%s.xlsx"`, id))
	return c.Send(b)
}

func (s *Server) sourceURL(c *fiber.Ctx) error {
	if s.deps.Storage == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "NOT_ENABLED", "object storage is not enabled")
	}
	a, err := s.lookup(c)
	if err != nil {
		return writeAppError(c, err)
	}
	if a.ObjectKey == nil {
		return writeError(c, fiber.StatusNotFound, common.CodeNotFound, "no archived upload for this analysis")
	}
	url, err := s.deps.Storage.PresignGet(c.UserContext(), *a.ObjectKey, s.cfg.PresignExpiry)
	if err != nil {
		s.logger.Error("http.presign.failed", "request_id", requestIDFromCtx(c), "key", *a.ObjectKey, "error", err)
		return writeError(c, fiber.StatusBadGateway, "STORAGE_UNAVAILABLE", "could not sign the download url")
	}
	return c.JSON(fiber.Map{
		"url":        url,
		"expires_at": time.Now().Add(s.cfg.PresignExpiry).UTC(),
	})
}

func (s *Server) quotaStatus(c *fiber.Ctx) error {
	caller := callerID(c)
	if s.deps.Limiter == nil {
		return c.JSON(fiber.Map{"caller": caller, "enabled": false})
	}
	d, err := s.deps.Limiter.Status(c.UserContext(), caller)
	if err != nil {
		return writeAppError(c, err)
	}
	return c.JSON(fiber.Map{"caller": caller, "enabled": true, "quota": d})
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	services := fiber.Map{"model_provider": "missing", "database": "disabled", "storage": "disabled"}
	if s.deps.ModelConfigured {
		services["model_provider"] = "configured"
	}
	status := fiber.StatusOK
	if s.deps.DB != nil {
		services["database"] = "ok"
		if err := repository.HealthCheck(ctx, s.deps.DB, 0, s.logger); err != nil {
			services["database"] = "unavailable"
			status = fiber.StatusServiceUnavailable
		}
	}
	if s.deps.Storage != nil {
		services["storage"] = "ok"
		if err := s.deps.Storage.Ping(ctx); err != nil {
			services["storage"] = "unavailable"
			status = fiber.StatusServiceUnavailable
		}
	}
	overall := "ok"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"version":   s.cfg.Version,
		"services":  services,
	})
}

// admit charges the caller's quota and builds the request context.
func (s *Server) admit(c *fiber.Ctx) (context.Context, string, error) {
	caller := callerID(c)
	ctx := common.WithCallerID(common.WithRequestID(c.UserContext(), requestIDFromCtx(c)), caller)
	if s.deps.Limiter == nil {
		return ctx, caller, nil
	}
	d, err := s.deps.Limiter.Check(ctx, caller)
	if err != nil {
		return ctx, caller, err
	}
	c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		ee := &quota.ExceededError{Decision: d}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(ee.RetryAfter(time.Now()).Seconds()))))
		return ctx, caller, ee
	}
	return ctx, caller, nil
}

func (s *Server) lookup(c *fiber.Ctx) (*entity.Analysis, error) {
	if s.deps.Analyses == nil {
		return nil, common.NewAppError(common.CodeNotFound, "analysis history is not enabled", nil)
	}
	id, err := analysisID(c)
	if err != nil {
		return nil, err
	}
	return s.deps.Analyses.Get(c.UserContext(), id)
}

// analysisID returns the :id route parameter once it parses as a ULID.
func analysisID(c *fiber.Ctx) (string, error) {
	id := utils.CopyString(c.Params("id"))
	if err := common.NewValidator().Field("id", id, common.ULID).AppError(common.CodeInvalidInput); err != nil {
		return "", err
	}
	return id, nil
}

// createRecord archives the upload when storage is enabled and creates its
// history record. A failed archive is logged and the record has no object key.
func (s *Server) createRecord(ctx context.Context, doc document.UploadedDocument, caller string, status constants.JobStatus) (*entity.Analysis, error) {
	id := ulid.Make().String()
	req := repository.CreateAnalysisRequest{
		ID:        id,
		CallerID:  caller,
		FileName:  doc.Name,
		MediaType: doc.MediaType,
		Size:      doc.Size(),
		Status:    status,
	}
	if s.deps.Storage != nil {
		key := storage.ObjectKey(id, doc.Name, time.Now())
		_, err := s.deps.Storage.Put(ctx, key, bytes.NewReader(doc.Data), storage.PutObjectOptions{
			Size:        doc.Size(),
			ContentType: doc.MediaType,
			Metadata:    map[string]string{"analysis-id": id},
		})
		if err != nil {
			s.logger.Warn("http.archive.failed", "req_id", common.RequestIDFromContext(ctx), "key", key, "error", err)
		} else {
			req.ObjectKey = key
		}
	}
	return s.deps.Analyses.Create(ctx, req)
}

func (s *Server) recordCompletion(id string, out *pipeline.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	comp, err := out.Completion()
	if err == nil {
		err = s.deps.Analyses.Complete(ctx, id, comp)
	}
	if err != nil {
		s.logger.Error("http.record_result.failed", "analysis_id", id, "error", err)
	}
}

func (s *Server) recordFailure(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Analyses.Fail(ctx, id, pipeline.FailureOf(cause)); err != nil {
		s.logger.Error("http.record_failure.failed", "analysis_id", id, "error", err)
	}
}

// readUpload reads the multipart "file" field. The declared type is the
// "type" form value, else the part's Content-Type, else the extension.
func readUpload(c *fiber.Ctx) (document.UploadedDocument, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return document.UploadedDocument{}, common.NewAppError(common.CodeInvalidInput, `multipart field "file" is required`, err)
	}
	f, err := fh.Open()
	if err != nil {
		return document.UploadedDocument{}, common.NewAppError(common.CodeInvalidInput, "cannot open uploaded file", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return document.UploadedDocument{}, common.NewAppError(common.CodeInvalidInput, "cannot read uploaded file", err)
	}
	if len(data) == 0 {
		return document.UploadedDocument{}, common.NewAppError(common.CodeInvalidInput, "uploaded file is empty", nil)
	}

	mediaType := strings.TrimSpace(c.FormValue("type"))
	if mediaType == "" {
		mediaType = fh.Header.Get(fiber.HeaderContentType)
	}
	if mediaType == "" || document.BaseMediaType(mediaType) == "application/octet-stream" {
		if byExt := constants.MediaTypeForExt(filepath.Ext(fh.Filename)); byExt != "" {
			mediaType = byExt
		}
	}
	return document.UploadedDocument{Data: data, MediaType: utils.CopyString(mediaType), Name: utils.CopyString(fh.Filename)}, nil
}

// callerID is the quota identity: X-Caller-ID when present, else the client IP.
// The value outlives the request in queued jobs, so it is copied off the
// request buffer.
func callerID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get(CallerIDHeader)); id != "" {
		return utils.CopyString(id)
	}
	return utils.CopyString(c.IP())
}

func preview(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
