package async

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/labwise/internal/document"
)

var (
	ErrQueueFull   = errors.New("analysis queue is full")
	ErrQueueClosed = errors.New("analysis queue is shutting down")
)

// Job is one queued analysis. AnalysisID names a record already created
// in the QUEUED state.
type Job struct {
	AnalysisID  string
	Document    document.UploadedDocument
	CallerID    string
	RequestID   string
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
