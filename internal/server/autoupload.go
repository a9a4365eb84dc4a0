package server

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/jobs"
	"github.com/sjawhar/chunkscribe/internal/metrics"
	"github.com/sjawhar/chunkscribe/internal/recorder"
	"github.com/sjawhar/chunkscribe/internal/segment"
)

type payloadReader interface {
	Payload(id string) ([]byte, error)
}

type uploader interface {
	Upload(ctx context.Context, chunkID string, payload []byte) jobs.ChunkJob
}

// RecorderEvents forwards recorder events to the hub, records chunk metrics
// and, when enabled, uploads every chunk as soon as it is ready.
type RecorderEvents struct {
	next    recorder.EventBroadcaster
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	payloads payloadReader
	jobs     uploader
	wg       sync.WaitGroup
}

func NewRecorderEvents(next recorder.EventBroadcaster, m *metrics.Metrics, logger *zap.Logger) *RecorderEvents {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecorderEvents{next: next, metrics: m, logger: logger}
}

// EnableAutoUpload makes every subsequent chunk upload itself. Uploads run
// with ctx, which should outlive the recording session.
func (e *RecorderEvents) EnableAutoUpload(ctx context.Context, payloads payloadReader, j uploader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx, e.payloads, e.jobs = ctx, payloads, j
}

func (e *RecorderEvents) BroadcastRecorderStatus(status recorder.Status) {
	if e.next != nil {
		e.next.BroadcastRecorderStatus(status)
	}
}

func (e *RecorderEvents) BroadcastRecorderError(err error) {
	e.metrics.RecordRecorderError()
	if e.next != nil {
		e.next.BroadcastRecorderError(err)
	}
}

func (e *RecorderEvents) BroadcastChunkReady(chunk segment.Chunk) {
	e.metrics.RecordChunk(chunk.Duration())
	if e.next != nil {
		e.next.BroadcastChunkReady(chunk)
	}

	e.mu.Lock()
	ctx, payloads, j := e.ctx, e.payloads, e.jobs
	e.mu.Unlock()
	if j == nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		payload, err := payloads.Payload(chunk.ID)
		if err != nil {
			e.logger.Warn("auto upload skipped", zap.String("chunk_id", chunk.ID), zap.Error(err))
			return
		}
		j.Upload(ctx, chunk.ID, payload)
	}()
}

// Wait blocks until in-flight auto uploads have been submitted.
func (e *RecorderEvents) Wait() {
	e.wg.Wait()
}
