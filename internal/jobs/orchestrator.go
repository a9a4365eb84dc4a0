// Package jobs submits recording chunks to the transcription job API and
// polls each job until it finishes.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
	"github.com/sjawhar/chunkscribe/internal/metrics"
)

// DefaultPollInterval is the delay between result lookups.
const DefaultPollInterval = 5 * time.Second

type Option func(*Orchestrator)

func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithBroadcaster(hub EventBroadcaster) Option {
	return func(o *Orchestrator) { o.hub = hub }
}

func WithHistory(h History) Option {
	return func(o *Orchestrator) { o.history = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

type loop struct {
	gen    uint64
	cancel context.CancelFunc
}

// Orchestrator owns one job per chunk. Each chunk has at most one live poll
// loop; every mutation is checked against the chunk's current generation so a
// superseded or cancelled loop never changes state.
type Orchestrator struct {
	api          JobAPI
	pollInterval time.Duration
	logger       *zap.Logger
	hub          EventBroadcaster
	history      History
	metrics      *metrics.Metrics

	mu     sync.Mutex
	jobs   map[string]*ChunkJob
	gens   map[string]uint64
	loops  map[string]*loop
	closed bool

	base      context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

func New(api JobAPI, opts ...Option) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		api:          api,
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
		jobs:         make(map[string]*ChunkJob),
		gens:         make(map[string]uint64),
		loops:        make(map[string]*loop),
		base:         base,
		cancelAll:    cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Upload submits payload as the transcription job for chunkID, replacing any
// previous job for that chunk. The payload is only read while Upload runs.
// Failures are recorded on the returned snapshot, never returned.
func (o *Orchestrator) Upload(ctx context.Context, chunkID string, payload []byte) ChunkJob {
	if len(payload) == 0 {
		snap, _ := o.Snapshot(chunkID)
		return snap
	}
	return o.submit(ctx, chunkID, KindTranscript, func(ctx context.Context) (jobapi.UploadResponse, error) {
		return o.api.Upload(ctx, Filename(chunkID), bytes.NewReader(payload))
	})
}

// Summarize submits text for summarization, tracked under
// jobapi.SummaryJobID(id). Empty text is a no-op.
func (o *Orchestrator) Summarize(ctx context.Context, id, text string) ChunkJob {
	key := jobapi.SummaryJobID(id)
	if text == "" {
		snap, _ := o.Snapshot(key)
		return snap
	}
	return o.submit(ctx, key, KindSummary, func(ctx context.Context) (jobapi.UploadResponse, error) {
		return o.api.Summarize(ctx, id, text)
	})
}

func (o *Orchestrator) submit(ctx context.Context, key string, kind Kind, send func(context.Context) (jobapi.UploadResponse, error)) ChunkJob {
	o.mu.Lock()
	if o.closed {
		snap := o.snapshotLocked(key)
		o.mu.Unlock()
		return snap
	}
	o.stopLoopLocked(key)

	gen := o.gens[key] + 1
	o.gens[key] = gen

	lctx, cancel := context.WithCancel(o.base)
	o.loops[key] = &loop{gen: gen, cancel: cancel}

	now := time.Now().UTC()
	prev := StatusIdle
	if j, ok := o.jobs[key]; ok {
		prev = j.Status
	}
	job := &ChunkJob{ChunkID: key, Kind: kind, Status: StatusIdle, SubmittedAt: now}
	o.jobs[key] = job
	o.transitionLocked(job, StatusUploading)
	snap := *job
	o.mu.Unlock()

	o.logger.Debug("submitting job",
		zap.String("chunk_id", key),
		zap.String("kind", string(kind)),
		zap.String("previous_status", string(prev)),
	)
	o.publish(snap)

	// The caller's ctx bounds the submission only; the poll loop lives on
	// until Close, Forget or a re-upload.
	sctx, sendCancel := context.WithCancel(lctx)
	stopAfter := context.AfterFunc(ctx, sendCancel)
	resp, err := send(sctx)
	stopAfter()
	sendCancel()

	o.mu.Lock()
	if o.closed || o.gens[key] != gen {
		snap := o.snapshotLocked(key)
		o.mu.Unlock()
		return snap
	}
	job = o.jobs[key]
	if err != nil {
		o.stopLoopLocked(key)
		job.Error = submissionMessage(err)
		job.JobID = resp.JobID
		o.transitionLocked(job, StatusFailed)
		snap := *job
		o.mu.Unlock()

		o.logger.Warn("job submission failed", zap.String("chunk_id", key), zap.Error(err))
		o.metrics.RecordUpload("failed")
		o.metrics.RecordOutcome(string(StatusFailed), snap.SubmittedAt)
		o.publish(snap)
		return snap
	}

	job.JobID = resp.JobID
	o.transitionLocked(job, StatusProcessing)
	snap = *job
	o.wg.Add(1)
	go o.poll(lctx, key, gen, resp.JobID)
	o.mu.Unlock()

	o.logger.Info("job submitted", zap.String("chunk_id", key), zap.String("job_id", resp.JobID))
	o.metrics.RecordUpload("accepted")
	o.publish(snap)
	return snap
}

func (o *Orchestrator) poll(ctx context.Context, key string, gen uint64, jobID string) {
	defer o.wg.Done()
	o.metrics.PollerStarted()
	defer o.metrics.PollerStopped()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.metrics.RecordPoll()
		res, err := o.api.Result(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if o.applyResult(key, gen, res, err) {
			return
		}
	}
}

// applyResult records one lookup and reports whether polling is over.
func (o *Orchestrator) applyResult(key string, gen uint64, res jobapi.Result, lookupErr error) bool {
	o.mu.Lock()
	if o.closed || o.gens[key] != gen {
		o.mu.Unlock()
		return true
	}
	job := o.jobs[key]

	switch {
	case lookupErr != nil:
		job.Error = MsgLookupFailed
		o.transitionLocked(job, StatusFailed)
	case res.Status == jobapi.StatusProcessing:
		o.mu.Unlock()
		return false
	case res.Status == jobapi.StatusCompleted:
		if job.Kind == KindSummary {
			job.Transcript = res.Summary
		} else {
			job.Transcript = res.Transcription
		}
		job.Warning = res.ErrorDetail
		job.DetectedLanguage = res.DetectedLanguage
		o.transitionLocked(job, StatusCompleted)
	default:
		// Failed, and any status this client does not know.
		job.Error = res.Error
		if job.Error == "" {
			job.Error = MsgProcessingFailed
		}
		o.transitionLocked(job, StatusFailed)
	}
	o.stopLoopLocked(key)
	snap := *job
	o.mu.Unlock()

	if lookupErr != nil {
		o.logger.Warn("result lookup failed", zap.String("chunk_id", key), zap.String("job_id", snap.JobID), zap.Error(lookupErr))
	} else {
		o.logger.Info("job finished",
			zap.String("chunk_id", key),
			zap.String("job_id", snap.JobID),
			zap.String("status", string(snap.Status)),
		)
	}
	o.metrics.RecordOutcome(string(snap.Status), snap.SubmittedAt)
	o.publish(snap)
	return true
}

// Forget cancels the chunk's loop and drops its job.
func (o *Orchestrator) Forget(chunkID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLoopLocked(chunkID)
	o.gens[chunkID]++
	delete(o.jobs, chunkID)
}

// Close cancels every loop and waits for them to exit. Later calls to Upload
// and Summarize do nothing. Close is idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.wg.Wait()
		return
	}
	o.closed = true
	for key := range o.loops {
		o.stopLoopLocked(key)
	}
	o.cancelAll()
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) Snapshot(chunkID string) (ChunkJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[chunkID]
	if !ok {
		return ChunkJob{ChunkID: chunkID, Status: StatusIdle}, false
	}
	return *job, true
}

// Snapshots returns every job ordered by chunk id.
func (o *Orchestrator) Snapshots() []ChunkJob {
	o.mu.Lock()
	out := make([]ChunkJob, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, *job)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}

// LivePolls reports how many poll loops are running.
func (o *Orchestrator) LivePolls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for key := range o.loops {
		if job, ok := o.jobs[key]; ok && job.Status == StatusProcessing {
			n++
		}
	}
	return n
}

func (o *Orchestrator) snapshotLocked(key string) ChunkJob {
	if job, ok := o.jobs[key]; ok {
		return *job
	}
	return ChunkJob{ChunkID: key, Status: StatusIdle}
}

func (o *Orchestrator) stopLoopLocked(key string) {
	if l, ok := o.loops[key]; ok {
		l.cancel()
		delete(o.loops, key)
	}
}

func (o *Orchestrator) transitionLocked(job *ChunkJob, to Status) {
	if !isValidTransition(job.Status, to) {
		o.logger.Warn("ignoring invalid job transition",
			zap.String("chunk_id", job.ChunkID),
			zap.String("from", string(job.Status)),
			zap.String("to", string(to)),
		)
		return
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) publish(job ChunkJob) {
	if o.hub != nil {
		o.hub.BroadcastChunkJob(job)
	}
	if o.history != nil {
		if err := o.history.RecordChunkJob(context.Background(), job); err != nil {
			o.logger.Warn("record job history", zap.String("chunk_id", job.ChunkID), zap.Error(err))
		}
	}
}

func submissionMessage(err error) string {
	if errors.Is(err, jobapi.ErrNoJobID) {
		return MsgNoJobID
	}
	return fmt.Sprintf("upload failed: %v", err)
}
