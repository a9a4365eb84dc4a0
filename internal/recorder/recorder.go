// Package recorder drives a recording session through
// idle → recording ⇄ paused → stopped and owns the chunks it produces.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/capture"
	"github.com/sjawhar/chunkscribe/internal/segment"
)

var (
	ErrClosed        = errors.New("recorder closed")
	ErrChunkNotFound = errors.New("chunk not found")
)

type Option func(*Recorder)

func WithBroadcaster(hub EventBroadcaster) Option {
	return func(r *Recorder) { r.hub = hub }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

type Recorder struct {
	newSource SourceFactory
	blobs     BlobStore
	segmenter *segment.Segmenter
	hub       EventBroadcaster
	logger    *zap.Logger

	mu      sync.Mutex
	status  Status
	source  Source
	gen     uint64
	chunks  []segment.Chunk
	lastErr error
	closed  bool
}

func New(newSource SourceFactory, blobs BlobStore, opts ...Option) *Recorder {
	r := &Recorder{
		newSource: newSource,
		blobs:     blobs,
		segmenter: segment.NewSegmenter(blobs),
		logger:    zap.NewNop(),
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a new session. It is a no-op while a session is recording or
// paused. The previous session's chunks are released and discarded.
func (r *Recorder) Start(segmentDuration time.Duration) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.status == StatusRecording || r.status == StatusPaused {
		r.mu.Unlock()
		return nil
	}

	r.releaseChunksLocked()
	if r.source != nil {
		r.source.Destroy()
		r.source = nil
	}

	r.gen++
	gen := r.gen
	src := r.newSource()
	src.OnSegmentReady(func(seg capture.Segment) { r.handleSegment(gen, seg) })
	src.OnStop(func(full []byte) { r.handleStop(gen, full) })
	src.OnError(func(err error) { r.handleError(gen, err) })

	r.segmenter.Reset()
	r.lastErr = nil
	r.source = src

	if err := src.Start(capture.Config{SegmentDuration: segmentDuration}); err != nil {
		r.status = StatusStopped
		r.lastErr = err
		r.mu.Unlock()
		r.publishStatus(StatusStopped)
		return fmt.Errorf("start capture: %w", err)
	}
	r.status = StatusRecording
	r.mu.Unlock()

	r.logger.Info("recording started", zap.Duration("segment_duration", segmentDuration))
	r.publishStatus(StatusRecording)
	return nil
}

// Stop asks the capture source to stop. The recorder reaches StatusStopped
// once the source confirms.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || (r.status != StatusRecording && r.status != StatusPaused) {
		return
	}
	r.source.Stop()
}

func (r *Recorder) Pause() {
	r.mu.Lock()
	if r.closed || r.status != StatusRecording {
		r.mu.Unlock()
		return
	}
	r.source.Pause()
	r.status = StatusPaused
	r.mu.Unlock()
	r.publishStatus(StatusPaused)
}

func (r *Recorder) Resume() {
	r.mu.Lock()
	if r.closed || r.status != StatusPaused {
		r.mu.Unlock()
		return
	}
	r.source.Resume()
	r.status = StatusRecording
	r.mu.Unlock()
	r.publishStatus(StatusRecording)
}

// Close destroys the capture source and releases every chunk payload. It is
// safe to call more than once and at any point of a session.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.source != nil {
		r.source.Destroy()
		r.source = nil
	}
	return r.releaseChunksLocked()
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Chunks returns a copy of the current session's chunks in recording order.
func (r *Recorder) Chunks() []segment.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]segment.Chunk(nil), r.chunks...)
}

func (r *Recorder) Chunk(id string) (segment.Chunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chunks {
		if c.ID == id {
			return c, true
		}
	}
	return segment.Chunk{}, false
}

// Payload reads the WAV payload of a chunk in the current session.
func (r *Recorder) Payload(id string) ([]byte, error) {
	chunk, ok := r.Chunk(id)
	if !ok {
		return nil, ErrChunkNotFound
	}
	data, err := r.blobs.Read(chunk.Handle)
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", id, err)
	}
	return data, nil
}

// LastError is the capture error that ended the current session, if any.
func (r *Recorder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Recorder) handleSegment(gen uint64, seg capture.Segment) {
	r.mu.Lock()
	if r.closed || gen != r.gen {
		r.mu.Unlock()
		return
	}
	chunk, err := r.segmenter.Next(seg)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("dropping segment", zap.Error(err))
		return
	}
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()

	r.logger.Debug("chunk ready",
		zap.String("chunk_id", chunk.ID),
		zap.Duration("start", chunk.Start),
		zap.Duration("end", chunk.End),
	)
	if r.hub != nil {
		r.hub.BroadcastChunkReady(chunk)
	}
}

func (r *Recorder) handleStop(gen uint64, full []byte) {
	r.mu.Lock()
	if r.closed || gen != r.gen || (r.status != StatusRecording && r.status != StatusPaused) {
		r.mu.Unlock()
		return
	}
	r.status = StatusStopped
	chunks := len(r.chunks)
	r.mu.Unlock()

	r.logger.Info("recording stopped", zap.Int("chunks", chunks), zap.Int("bytes", len(full)))
	r.publishStatus(StatusStopped)
}

func (r *Recorder) handleError(gen uint64, err error) {
	r.mu.Lock()
	if r.closed || gen != r.gen || r.status == StatusIdle {
		r.mu.Unlock()
		return
	}
	r.status = StatusStopped
	r.lastErr = err
	r.mu.Unlock()

	r.logger.Error("recording failed", zap.Error(err))
	if r.hub != nil {
		r.hub.BroadcastRecorderError(err)
	}
	r.publishStatus(StatusStopped)
}

// releaseChunksLocked releases every chunk handle once. Callers hold r.mu.
func (r *Recorder) releaseChunksLocked() error {
	var errs []error
	for _, c := range r.chunks {
		if err := r.blobs.Release(c.Handle); err != nil {
			errs = append(errs, fmt.Errorf("release chunk %s: %w", c.ID, err))
		}
	}
	r.chunks = nil
	return errors.Join(errs...)
}

func (r *Recorder) publishStatus(s Status) {
	if r.hub != nil {
		r.hub.BroadcastRecorderStatus(s)
	}
}
