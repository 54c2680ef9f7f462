package async

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/analysis"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/entity"
	"github.com/joseph-ayodele/labwise/internal/extract"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
	"github.com/joseph-ayodele/labwise/internal/repository/mocks"
	"github.com/joseph-ayodele/labwise/internal/truncate"
)

type analyzerFunc func(ctx context.Context, doc document.UploadedDocument) (*pipeline.Outcome, error)

func (f analyzerFunc) Analyze(ctx context.Context, doc document.UploadedDocument) (*pipeline.Outcome, error) {
	return f(ctx, doc)
}

func okOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{
		Result: analysis.AnalysisResult{
			Results:          []analysis.Finding{{TestName: "Glucose", Value: "95", Status: constants.StatusNormal, Interpretation: "ok"}},
			CriticalFindings: []string{},
			Summary:          "Normal.",
			Recommendations:  []string{},
		},
		Strategy:   constants.StrategyPlainText,
		Extraction: extract.NewResult("Glucose 95 mg/dL", 1, constants.MethodDirectText),
		Truncated:  truncate.Result{Text: "Glucose 95 mg/dL", OriginalLength: 16},
		Model:      "gpt-4o-mini",
	}
}

func TestProcessorQueue_RecordsCompletion(t *testing.T) {
	repo := &mocks.MockAnalysisRepository{}
	done := make(chan entity.Completion, 1)
	repo.On("MarkRunning", mock.Anything, "01A").Return(nil).Once()
	repo.On("Complete", mock.Anything, "01A", mock.Anything).
		Run(func(args mock.Arguments) { done <- args.Get(2).(entity.Completion) }).
		Return(nil).Once()

	var gotRID, gotCaller string
	proc := analyzerFunc(func(ctx context.Context, doc document.UploadedDocument) (*pipeline.Outcome, error) {
		gotRID = common.RequestIDFromContext(ctx)
		gotCaller = common.CallerIDFromContext(ctx)
		return okOutcome(), nil
	})
	q := NewProcessorQueue(proc, repo, nil, WithWorkers(1))

	err := q.Enqueue(context.Background(), Job{
		AnalysisID: "01A",
		Document:   document.UploadedDocument{Data: []byte("Glucose 95 mg/dL"), MediaType: "text/plain", Name: "a.txt"},
		CallerID:   "10.0.0.1",
		RequestID:  "rid-1",
	})
	require.NoError(t, err)

	select {
	case c := <-done:
		assert.Equal(t, constants.MethodDirectText, c.Method)
		assert.Equal(t, 16, c.OriginalLength)
		assert.Equal(t, "gpt-4o-mini", c.Model)
		var res analysis.AnalysisResult
		require.NoError(t, json.Unmarshal(c.Result, &res))
		assert.Equal(t, "Glucose", res.Results[0].TestName)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not completed")
	}

	q.Shutdown(context.Background())
	assert.Equal(t, "rid-1", gotRID)
	assert.Equal(t, "10.0.0.1", gotCaller)
	repo.AssertExpectations(t)
}

func TestProcessorQueue_RecordsFailure(t *testing.T) {
	repo := &mocks.MockAnalysisRepository{}
	repo.On("MarkRunning", mock.Anything, "01B").Return(nil).Once()
	repo.On("Fail", mock.Anything, "01B", entity.Failure{
		Code:    common.CodeExtractionFailed,
		Message: "pipeline failed at Extracting: EXTRACTION_FAILED: scanned pdf",
		Stage:   string(constants.StageExtracting),
	}).Return(nil).Once()

	proc := analyzerFunc(func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		return nil, &pipeline.Error{
			Stage: constants.StageExtracting,
			Err:   common.NewAppError(common.CodeExtractionFailed, "scanned pdf", nil),
		}
	})
	q := NewProcessorQueue(proc, repo, nil, WithWorkers(1))
	require.NoError(t, q.Enqueue(context.Background(), Job{AnalysisID: "01B"}))

	q.Shutdown(context.Background())
	repo.AssertExpectations(t)
}

func TestProcessorQueue_LogsFallbackFailWrite(t *testing.T) {
	repo := &mocks.MockAnalysisRepository{}
	repo.On("MarkRunning", mock.Anything, "01C").Return(nil).Once()
	repo.On("Complete", mock.Anything, "01C", mock.Anything).Return(errors.New("db write timeout")).Once()
	repo.On("Fail", mock.Anything, "01C", mock.Anything).Return(errors.New("connection reset")).Once()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	proc := analyzerFunc(func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		return okOutcome(), nil
	})
	q := NewProcessorQueue(proc, repo, logger, WithWorkers(1))
	require.NoError(t, q.Enqueue(context.Background(), Job{AnalysisID: "01C"}))
	q.Shutdown(context.Background())

	repo.AssertExpectations(t)
	assert.Contains(t, logs.String(), `"msg":"queue.record_result.failed"`)
	assert.Contains(t, logs.String(), `"msg":"queue.record_failure.failed"`)
	assert.Contains(t, logs.String(), "connection reset")
}

func TestProcessorQueue_SkipsJobWhenRecordMissing(t *testing.T) {
	repo := &mocks.MockAnalysisRepository{}
	repo.On("MarkRunning", mock.Anything, "gone").
		Return(common.NewAppError(common.CodeNotFound, "analysis gone not found", nil)).Once()

	called := false
	proc := analyzerFunc(func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		called = true
		return okOutcome(), nil
	})
	q := NewProcessorQueue(proc, repo, nil, WithWorkers(1))
	require.NoError(t, q.Enqueue(context.Background(), Job{AnalysisID: "gone"}))
	q.Shutdown(context.Background())

	assert.False(t, called)
	repo.AssertExpectations(t)
}

func TestProcessorQueue_Backpressure(t *testing.T) {
	repo := &mocks.MockAnalysisRepository{}
	repo.On("MarkRunning", mock.Anything, mock.Anything).Return(nil)
	repo.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	proc := analyzerFunc(func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		started <- struct{}{}
		<-release
		return okOutcome(), nil
	})
	q := NewProcessorQueue(proc, repo, nil, WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{AnalysisID: "1"}))
	<-started
	require.NoError(t, q.Enqueue(context.Background(), Job{AnalysisID: "2"}))
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{AnalysisID: "3"}), ErrQueueFull)

	close(release)
	q.Shutdown(context.Background())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{AnalysisID: "4"}), ErrQueueClosed)
}

func TestProcessorQueue_ShutdownHonorsContext(t *testing.T) {
	repo := &mocks.MockAnalysisRepository{}
	repo.On("MarkRunning", mock.Anything, mock.Anything).Return(nil)
	repo.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	release := make(chan struct{})
	started := make(chan struct{})
	proc := analyzerFunc(func(context.Context, document.UploadedDocument) (*pipeline.Outcome, error) {
		close(started)
		<-release
		return okOutcome(), nil
	})
	q := NewProcessorQueue(proc, repo, nil, WithWorkers(1))
	require.NoError(t, q.Enqueue(context.Background(), Job{AnalysisID: "slow"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	begin := time.Now()
	q.Shutdown(ctx)
	assert.Less(t, time.Since(begin), time.Second)
	close(release)
}
