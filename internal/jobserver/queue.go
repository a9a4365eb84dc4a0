package jobserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/metrics"
)

var ErrQueueClosed = errors.New("job queue is shutting down")

type JobProcessor interface {
	Process(ctx context.Context, job Job) error
}

// Queue feeds jobs to a fixed pool of workers.
type Queue struct {
	proc    JobProcessor
	logger  *zap.Logger
	metrics *metrics.Metrics
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type QueueOption func(*Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithQueueMetrics(m *metrics.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

func NewQueue(proc JobProcessor, logger *zap.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(i + 1)
		}
	})
}

func (q *Queue) work(workerID int) {
	defer q.wg.Done()
	log := q.logger.With(zap.Int("worker_id", workerID))
	log.Debug("worker started")

	for job := range q.ch {
		q.metrics.SetQueueSize(len(q.ch))
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.proc.Process(ctx, job)
		cancel()

		if err != nil {
			log.Error("job failed", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Error(err))
		} else {
			log.Info("job processed", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
		}
	}

	log.Debug("worker stopped")
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	select {
	case q.ch <- job:
	default:
		q.logger.Warn("queue full, applying backpressure", zap.String("job_id", job.ID))
		select {
		case q.ch <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	q.metrics.RecordEnqueued(string(job.Kind))
	q.metrics.SetQueueSize(len(q.ch))
	q.logger.Info("queued job", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	return nil
}

// Shutdown stops accepting jobs and waits for queued ones to finish or for
// ctx to end.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted before queue drained")
		return ctx.Err()
	case <-done:
		q.logger.Info("queue drained")
		return nil
	}
}
