package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
	"github.com/joseph-ayodele/labwise/internal/repository"
)

type Analyzer interface {
	Analyze(ctx context.Context, doc document.UploadedDocument) (*pipeline.Outcome, error)
}

// ProcessorQueue runs queued analyses on a fixed pool of workers and
// records each transition in the analysis repository.
type ProcessorQueue struct {
	proc    Analyzer
	repo    repository.AnalysisRepository
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc Analyzer, repo repository.AnalysisRepository, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		repo:    repo,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// process owns the record from RUNNING to DONE or FAILED. Repository writes
// get their own context so a timed-out analysis is still recorded.
func (q *ProcessorQueue) process(workerID int, job Job) {
	log := q.logger.With("worker_id", workerID, "analysis_id", job.AnalysisID, "req_id", job.RequestID)

	if err := q.record(func(ctx context.Context) error { return q.repo.MarkRunning(ctx, job.AnalysisID) }); err != nil {
		log.Error("queue.mark_running.failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	ctx = common.WithRequestID(ctx, job.RequestID)
	ctx = common.WithCallerID(ctx, job.CallerID)
	out, err := q.proc.Analyze(ctx, job.Document)
	cancel()

	if err != nil {
		f := pipeline.FailureOf(err)
		if rerr := q.record(func(ctx context.Context) error { return q.repo.Fail(ctx, job.AnalysisID, f) }); rerr != nil {
			log.Error("queue.record_failure.failed", "error", rerr)
		}
		log.Warn("queue.job.failed", "code", f.Code, "stage", f.Stage, "waited_ms", time.Since(job.SubmittedAt).Milliseconds())
		return
	}

	c, err := out.Completion()
	if err == nil {
		err = q.record(func(ctx context.Context) error { return q.repo.Complete(ctx, job.AnalysisID, c) })
	}
	if err != nil {
		log.Error("queue.record_result.failed", "error", err)
		if rerr := q.record(func(ctx context.Context) error { return q.repo.Fail(ctx, job.AnalysisID, pipeline.FailureOf(err)) }); rerr != nil {
			log.Error("queue.record_failure.failed", "error", rerr)
		}
		return
	}
	log.Info("queue.job.done", "findings", len(out.Result.Results), "waited_ms", time.Since(job.SubmittedAt).Milliseconds())
}

func (q *ProcessorQueue) record(write func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return write(ctx)
}

// Enqueue never blocks: a full queue returns ErrQueueFull.
func (q *ProcessorQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "analysis_id", job.AnalysisID)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueued", "analysis_id", job.AnalysisID, "depth", len(q.ch))
		return nil
	default:
		q.logger.Warn("queue.full", "analysis_id", job.AnalysisID, "capacity", cap(q.ch))
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain or ctx to end.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.ok")
	}
}
