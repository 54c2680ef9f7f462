package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/analysis"
	"github.com/joseph-ayodele/labwise/internal/async"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/entity"
	"github.com/joseph-ayodele/labwise/internal/extract"
	"github.com/joseph-ayodele/labwise/internal/llm"
	"github.com/joseph-ayodele/labwise/internal/normalize"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
	"github.com/joseph-ayodele/labwise/internal/quota"
	"github.com/joseph-ayodele/labwise/internal/repository"
	repomocks "github.com/joseph-ayodele/labwise/internal/repository/mocks"
	"github.com/joseph-ayodele/labwise/internal/storage"
	storagemocks "github.com/joseph-ayodele/labwise/internal/storage/mocks"
	"github.com/joseph-ayodele/labwise/internal/truncate"
)

type stubAnalyzer struct {
	calls atomic.Int32
	last  document.UploadedDocument
	fn    func(ctx context.Context, doc document.UploadedDocument) (*pipeline.Outcome, error)
}

func (s *stubAnalyzer) Analyze(ctx context.Context, doc document.UploadedDocument) (*pipeline.Outcome, error) {
	s.calls.Add(1)
	s.last = doc
	return s.fn(ctx, doc)
}

type stubQueue struct {
	jobs []async.Job
	err  error
}

func (q *stubQueue) Enqueue(_ context.Context, job async.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Shutdown(context.Context) {}

func okOutcome(text string) *pipeline.Outcome {
	return &pipeline.Outcome{
		Result: analysis.AnalysisResult{
			Results: []analysis.Finding{
				{TestName: "Glucose", Value: "180", Unit: "mg/dL", ReferenceRange: "70-99", Status: constants.StatusHigh, Interpretation: "Elevated"},
			},
			CriticalFindings: []string{},
			Summary:          "One high value.",
			Recommendations:  []string{"Repeat fasting glucose"},
		},
		Strategy:   constants.StrategyPlainText,
		Extraction: extract.NewResult(text, 1, constants.MethodDirectText),
		Truncated:  truncate.Result{Text: text, OriginalLength: len(text)},
		Model:      "gpt-4o-mini",
		Duration:   1500 * time.Millisecond,
	}
}

func newApp(t *testing.T, deps Deps) *fiber.App {
	t.Helper()
	app, err := New(Config{BodyLimit: 4 << 20, Version: "test"}, deps, nil)
	require.NoError(t, err)
	return app
}

func uploadRequest(t *testing.T, target, fileName, contentType, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if fileName != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, _ = part.Write([]byte(body))
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	s, _ := e["code"].(string)
	return s
}

func TestAnalyze_OK(t *testing.T) {
	text := strings.Repeat("Glucose 180 mg/dL. ", 100)
	an := &stubAnalyzer{fn: func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		return okOutcome(text), nil
	}}
	app := newApp(t, Deps{Analyzer: an})

	resp, err := app.Test(uploadRequest(t, "/api/analyze", "cbc.txt", "text/plain", text, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	body := decode(t, resp)
	assert.Equal(t, resp.Header.Get(RequestIDHeader), body["request_id"])
	assert.NotContains(t, body, "id")

	res := body["analysis"].(map[string]any)
	assert.Len(t, res["results"], 1)
	assert.Equal(t, []any{}, res["critical_findings"])

	ext := body["extraction"].(map[string]any)
	assert.Equal(t, "direct-text", ext["method"])
	assert.Equal(t, float64(len(text)), ext["original_length"])
	assert.Len(t, body["extracted_text"], extractedTextPreview)
	assert.Equal(t, float64(1500), body["duration_ms"])
	assert.Equal(t, "text/plain", an.last.MediaType)
}

func TestAnalyze_DeclaredType(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		override    string
		want        string
	}{
		{"part content type", "x.bin", "image/png", "", "image/png"},
		{"form override wins", "scan.png", "image/png", "application/pdf", "application/pdf"},
		{"octet-stream falls back to extension", "report.PDF", "application/octet-stream", "", "application/pdf"},
		{"missing falls back to extension", "notes.txt", "", "", "text/plain"},
		{"unknown stays as sent", "x.docx", "application/msword", "", "application/msword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			an := &stubAnalyzer{fn: func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
				return okOutcome("x"), nil
			}}
			app := newApp(t, Deps{Analyzer: an})
			fields := map[string]string{}
			if tt.override != "" {
				fields["type"] = tt.override
			}
			resp, err := app.Test(uploadRequest(t, "/api/analyze", tt.fileName, tt.contentType, "data", fields), -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.want, an.last.MediaType)
			assert.Equal(t, tt.fileName, an.last.Name)
		})
	}
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	deadline := common.NewTimeoutError(common.CodeCompletionFailed, "model call timed out", context.DeadlineExceeded)
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		stage    string
		message  string
		fragment string
	}{
		{
			name:   "unsupported format",
			err:    &pipeline.Error{Stage: constants.StageClassifying, Err: &document.UnsupportedFormatError{MediaType: "application/msword", Accepted: constants.AcceptedMediaTypes()}},
			status: fiber.StatusUnsupportedMediaType, code: common.CodeUnsupportedFormat, stage: "Classifying",
			fragment: "application/msword",
		},
		{
			name:   "too large",
			err:    &pipeline.Error{Stage: constants.StageClassifying, Err: &document.PayloadTooLargeError{Size: 30 << 20, Limit: 25 << 20}},
			status: fiber.StatusRequestEntityTooLarge, code: common.CodePayloadTooLarge, stage: "Classifying",
		},
		{
			name:   "type mismatch",
			err:    &pipeline.Error{Stage: constants.StageClassifying, Err: &document.TypeMismatchError{Declared: "application/pdf", Detected: "image/png"}},
			status: fiber.StatusUnsupportedMediaType, code: common.CodeTypeMismatch, stage: "Classifying",
		},
		{
			name:   "scanned pdf",
			err:    &pipeline.Error{Stage: constants.StageExtracting, Err: common.NewAppError(common.CodeExtractionFailed, "PDF contains 3 characters of text; "+extract.Suggestion, nil)},
			status: fiber.StatusUnprocessableEntity, code: common.CodeExtractionFailed, stage: "Extracting",
			message: "PDF contains 3 characters of text; " + extract.Suggestion,
		},
		{
			name:   "ocr failed",
			err:    &pipeline.Error{Stage: constants.StageExtracting, Err: common.NewAppError(common.CodeOCRFailed, "vision transcription returned no text", nil)},
			status: fiber.StatusBadGateway, code: common.CodeOCRFailed, stage: "Extracting",
		},
		{
			name:   "provider down",
			err:    &pipeline.Error{Stage: constants.StageCompleting, Err: &llm.CompletionError{Provider: "openai", StatusCode: 500, Message: "boom"}},
			status: fiber.StatusBadGateway, code: common.CodeCompletionFailed, stage: "Completing",
		},
		{
			name:   "invalid model response",
			err:    &pipeline.Error{Stage: constants.StageNormalizing, Err: &normalize.ResponseError{Reason: "malformed JSON"}},
			status: fiber.StatusBadGateway, code: common.CodeInvalidModelResponse, stage: "Normalizing",
		},
		{
			name:   "timeout",
			err:    &pipeline.Error{Stage: constants.StageCompleting, Err: deadline},
			status: fiber.StatusGatewayTimeout, code: common.CodeCompletionFailed, stage: "Completing",
			message: "model call timed out",
		},
		{
			name:   "unclassified",
			err:    errors.New("db password is hunter2"),
			status: fiber.StatusInternalServerError, code: common.CodeInternal,
			message: "internal server error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			an := &stubAnalyzer{fn: func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
				return nil, tt.err
			}}
			app := newApp(t, Deps{Analyzer: an})

			resp, err := app.Test(uploadRequest(t, "/api/analyze", "r.txt", "text/plain", "data", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decode(t, resp)
			assert.NotEmpty(t, body["request_id"])
			e := body["error"].(map[string]any)
			assert.Equal(t, tt.code, e["code"])
			if tt.stage != "" {
				assert.Equal(t, tt.stage, e["stage"])
			}
			if tt.message != "" {
				assert.Equal(t, tt.message, e["message"])
			}
			if tt.fragment != "" {
				assert.Contains(t, e["message"], tt.fragment)
			}
		})
	}
}

func TestAnalyze_MissingFile(t *testing.T) {
	an := &stubAnalyzer{}
	app := newApp(t, Deps{Analyzer: an})

	resp, err := app.Test(uploadRequest(t, "/api/analyze", "", "", "", map[string]string{"type": "text/plain"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, common.CodeInvalidInput, errorCode(decode(t, resp)))
	assert.Zero(t, an.calls.Load())
}

func TestAnalyze_EmptyFile(t *testing.T) {
	an := &stubAnalyzer{}
	app := newApp(t, Deps{Analyzer: an})

	resp, err := app.Test(uploadRequest(t, "/api/analyze", "empty.txt", "text/plain", "", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, an.calls.Load())
}

func TestAnalyze_QuotaExceeded(t *testing.T) {
	an := &stubAnalyzer{fn: func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		return okOutcome("x"), nil
	}}
	limiter := quota.NewLimiter(quota.Config{Window: time.Minute, MaxRequests: 1, BlockDuration: 5 * time.Minute}, nil, nil)
	app := newApp(t, Deps{Analyzer: an, Limiter: limiter})

	send := func(caller string) *http.Response {
		req := uploadRequest(t, "/api/analyze", "a.txt", "text/plain", "Glucose 90", nil)
		req.Header.Set(CallerIDHeader, caller)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	first := send("alice")
	assert.Equal(t, fiber.StatusOK, first.StatusCode)
	assert.Equal(t, "0", first.Header.Get("X-RateLimit-Remaining"))

	second := send("alice")
	assert.Equal(t, fiber.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get(fiber.HeaderRetryAfter))
	assert.Equal(t, common.CodeQuotaExceeded, errorCode(decode(t, second)))

	assert.Equal(t, fiber.StatusOK, send("bob").StatusCode)
	assert.Equal(t, int32(2), an.calls.Load(), "a denied request never reaches the pipeline")

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.Header.Set(CallerIDHeader, "alice")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, "alice", body["caller"])
	assert.Equal(t, false, body["quota"].(map[string]any)["allowed"])
}

func TestAnalyze_RecordsHistory(t *testing.T) {
	an := &stubAnalyzer{fn: func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		return okOutcome("Glucose 180 mg/dL"), nil
	}}
	repo := &repomocks.MockAnalysisRepository{}
	store := &storagemocks.MockStorage{}

	store.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "uploads/") && strings.HasSuffix(key, "/cbc.txt")
	}), mock.Anything, mock.Anything).Return(storage.ObjectInfo{Key: "k", Size: 17}, nil).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(r repository.CreateAnalysisRequest) bool {
		return r.Status == constants.JobStatusRunning && strings.HasPrefix(r.ObjectKey, "uploads/") && r.FileName == "cbc.txt"
	})).Return(&entity.Analysis{ID: "01HIST", Status: constants.JobStatusRunning}, nil).Once()
	repo.On("Complete", mock.Anything, "01HIST", mock.MatchedBy(func(c entity.Completion) bool {
		return c.Method == constants.MethodDirectText && c.Model == "gpt-4o-mini" && len(c.Result) > 0
	})).Return(nil).Once()

	app := newApp(t, Deps{Analyzer: an, Analyses: repo, Storage: store})
	resp, err := app.Test(uploadRequest(t, "/api/analyze", "cbc.txt", "text/plain", "Glucose 180 mg/dL", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "01HIST", decode(t, resp)["id"])

	repo.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestAnalyze_RecordsFailure(t *testing.T) {
	an := &stubAnalyzer{fn: func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		return nil, &pipeline.Error{Stage: constants.StageNormalizing, Err: &normalize.ResponseError{Reason: "malformed JSON"}}
	}}
	repo := &repomocks.MockAnalysisRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(&entity.Analysis{ID: "01FAIL"}, nil).Once()
	repo.On("Fail", mock.Anything, "01FAIL", mock.MatchedBy(func(f entity.Failure) bool {
		return f.Code == common.CodeInvalidModelResponse && f.Stage == "Normalizing"
	})).Return(nil).Once()

	app := newApp(t, Deps{Analyzer: an, Analyses: repo})
	resp, err := app.Test(uploadRequest(t, "/api/analyze", "a.txt", "text/plain", "x", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	repo.AssertExpectations(t)
}

func TestAnalyzeAsync(t *testing.T) {
	an := &stubAnalyzer{}
	repo := &repomocks.MockAnalysisRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(&entity.Analysis{ID: "01ASYNC", Status: constants.JobStatusQueued}, nil).Once()
	q := &stubQueue{}

	app := newApp(t, Deps{Analyzer: an, Analyses: repo, Queue: q})
	resp, err := app.Test(uploadRequest(t, "/api/analyses", "a.png", "image/png", "PNG", nil), -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/api/analyses/01ASYNC", resp.Header.Get(fiber.HeaderLocation))
	body := decode(t, resp)
	assert.Equal(t, "01ASYNC", body["id"])
	assert.Equal(t, "QUEUED", body["status"])

	require.Len(t, q.jobs, 1)
	assert.Equal(t, "01ASYNC", q.jobs[0].AnalysisID)
	assert.Equal(t, "image/png", q.jobs[0].Document.MediaType)
	assert.Zero(t, an.calls.Load())
}

func TestAnalyzeAsync_JobOutlivesRequest(t *testing.T) {
	repo := &repomocks.MockAnalysisRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(&entity.Analysis{ID: "01ASYNC", Status: constants.JobStatusQueued}, nil)
	q := &stubQueue{}
	app := newApp(t, Deps{Analyzer: &stubAnalyzer{}, Analyses: repo, Queue: q})

	send := func(rid, caller, name string) {
		req := uploadRequest(t, "/api/analyses", name, "text/plain", "Glucose 95 mg/dL", nil)
		req.Header.Set(RequestIDHeader, rid)
		req.Header.Set(CallerIDHeader, caller)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	}

	firstRID := strings.Repeat("A", 32)
	send(firstRID, "caller-AAAAAAAA", "aaaa.txt")
	for i := 0; i < 20; i++ {
		send(strings.Repeat("B", 32), "caller-BBBBBBBB", "bbbb.txt")
	}

	require.Len(t, q.jobs, 21)
	job := q.jobs[0]
	assert.Equal(t, firstRID, job.RequestID)
	assert.Equal(t, "caller-AAAAAAAA", job.CallerID)
	assert.Equal(t, "aaaa.txt", job.Document.Name)
	assert.Equal(t, "text/plain", job.Document.MediaType)
}

func TestAnalyzeAsync_QueueFull(t *testing.T) {
	repo := &repomocks.MockAnalysisRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(&entity.Analysis{ID: "01FULL", Status: constants.JobStatusQueued}, nil).Once()
	repo.On("Fail", mock.Anything, "01FULL", mock.Anything).Return(nil).Once()

	app := newApp(t, Deps{Analyzer: &stubAnalyzer{}, Analyses: repo, Queue: &stubQueue{err: async.ErrQueueFull}})
	resp, err := app.Test(uploadRequest(t, "/api/analyses", "a.txt", "text/plain", "x", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "QUEUE_UNAVAILABLE", errorCode(decode(t, resp)))
	repo.AssertExpectations(t)
}

func TestAnalyzeAsync_NotEnabled(t *testing.T) {
	app := newApp(t, Deps{Analyzer: &stubAnalyzer{}})
	resp, err := app.Test(uploadRequest(t, "/api/analyses", "a.txt", "text/plain", "x", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestAnalysesReadRoutes(t *testing.T) {
	const (
		doneID    = "01HQ3V6Y8K2Z9X4M7N5P0R1S2T"
		missingID = "01HQ3V6Y8K2Z9X4M7N5P0R1S2V"
	)
	repo := &repomocks.MockAnalysisRepository{}
	key := "uploads/2025/03/01/" + doneID + "/cbc.pdf"
	done := &entity.Analysis{
		ID:        doneID,
		Status:    constants.JobStatusDone,
		FileName:  "cbc.pdf",
		Result:    json.RawMessage(`{"results":[],"critical_findings":[],"summary":"ok","recommendations":[]}`),
		ObjectKey: &key,
	}
	repo.On("Get", mock.Anything, doneID).Return(done, nil)
	repo.On("Get", mock.Anything, missingID).Return(nil, common.NewAppError(common.CodeNotFound, "analysis not found", nil))
	repo.On("List", mock.Anything, 5, 10).Return([]*entity.Analysis{done}, 11, nil)

	store := &storagemocks.MockStorage{}
	store.On("PresignGet", mock.Anything, key, 15*time.Minute).Return("https://minio.local/signed", nil)

	app := newApp(t, Deps{Analyzer: &stubAnalyzer{}, Analyses: repo, Storage: store})
	get := func(path string) *http.Response {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		require.NoError(t, err)
		return resp
	}

	t.Run("get", func(t *testing.T) {
		resp := get("/api/analyses/" + doneID)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		body := decode(t, resp)
		assert.Equal(t, "DONE", body["status"])
		assert.Equal(t, "ok", body["result"].(map[string]any)["summary"])
	})

	t.Run("not found", func(t *testing.T) {
		resp := get("/api/analyses/" + missingID)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Equal(t, common.CodeNotFound, errorCode(decode(t, resp)))
	})

	t.Run("malformed id", func(t *testing.T) {
		for _, path := range []string{"/api/analyses/nope", "/api/analyses/nope/export", "/api/analyses/nope/source"} {
			resp := get(path)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, path)
			assert.Equal(t, common.CodeInvalidInput, errorCode(decode(t, resp)), path)
		}
		repo.AssertNotCalled(t, "Get", mock.Anything, "nope")
	})

	t.Run("list", func(t *testing.T) {
		resp := get("/api/analyses?limit=5&offset=10")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		body := decode(t, resp)
		assert.Equal(t, float64(11), body["total"])
		assert.Len(t, body["items"], 1)
	})

	t.Run("list bad limit", func(t *testing.T) {
		resp := get("/api/analyses?limit=1000")
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("export", func(t *testing.T) {
		resp := get("/api/analyses/" + doneID + "/export")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "labwise-"+doneID+".xlsx")
		b, _ := io.ReadAll(resp.Body)
		assert.True(t, bytes.HasPrefix(b, []byte("PK")), "xlsx is a zip container")
	})

	t.Run("source", func(t *testing.T) {
		resp := get("/api/analyses/" + doneID + "/source")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "https://minio.local/signed", decode(t, resp)["url"])
	})
}

func TestHealth(t *testing.T) {
	store := &storagemocks.MockStorage{}
	store.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	app := newApp(t, Deps{Analyzer: &stubAnalyzer{}, ModelConfigured: true})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, map[string]any{"model_provider": "configured", "database": "disabled", "storage": "disabled"}, body["services"])

	app = newApp(t, Deps{Analyzer: &stubAnalyzer{}, Storage: store})
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	body = decode(t, resp)
	assert.Equal(t, "degraded", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "missing", services["model_provider"])
	assert.Equal(t, "unavailable", services["storage"])
}

func TestMetricsAndLiveness(t *testing.T) {
	reg := prometheus.NewRegistry()
	app := newApp(t, Deps{Analyzer: &stubAnalyzer{}, Registry: reg})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), `http_requests_total{method="GET",path="/healthz",status="200"} 1`)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/nowhere", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, common.CodeNotFound, errorCode(decode(t, resp)))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, fiber.StatusGatewayTimeout, HTTPStatus(common.NewTimeoutError(common.CodeExtractionFailed, "pdf parse timed out", nil)))
	assert.Equal(t, fiber.StatusGatewayTimeout, HTTPStatus(context.DeadlineExceeded))
	assert.Equal(t, fiber.StatusTooManyRequests, HTTPStatus(&quota.ExceededError{}))
	assert.Equal(t, fiber.StatusBadRequest, HTTPStatus(common.NewAppError(common.CodeInvalidInput, "x", nil)))
	assert.Equal(t, fiber.StatusInternalServerError, HTTPStatus(errors.New("x")))
}
