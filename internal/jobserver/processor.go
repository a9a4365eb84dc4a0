// Package jobserver implements the transcription job API: it accepts audio
// uploads and summary requests, runs them on a worker queue and serves their
// results until they are read.
package jobserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
	"github.com/sjawhar/chunkscribe/internal/metrics"
	"github.com/sjawhar/chunkscribe/internal/objectstore"
	"github.com/sjawhar/chunkscribe/internal/storage"
	"github.com/sjawhar/chunkscribe/internal/transcribe"
)

// Kind selects what a worker does with a job.
type Kind string

const (
	KindTranscribe Kind = "transcribe"
	KindSummary    Kind = "summary"
)

const resultStoreTimeout = 10 * time.Second

// DetailNoSpeech is attached to a completed transcription with no text.
const DetailNoSpeech = "transcription is empty or no speech was detected"

var (
	errNoTranscriber = errors.New("transcriber is not configured")
	errNoSummarizer  = errors.New("summarizer is not configured")
)

type Job struct {
	ID         string
	Kind       Kind
	ObjectKey  string
	Filename   string
	Text       string
	EnqueuedAt time.Time
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Processor runs one job to completion and records its result.
type Processor struct {
	results     storage.ResultStore
	objects     objectstore.Store
	transcriber transcribe.Transcriber
	summarizer  Summarizer
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewProcessor(results storage.ResultStore, objects objectstore.Store, transcriber transcribe.Transcriber, summarizer Summarizer, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		results:     results,
		objects:     objects,
		transcriber: transcriber,
		summarizer:  summarizer,
		logger:      logger,
		metrics:     m,
	}
}

func (p *Processor) Process(ctx context.Context, job Job) error {
	started := time.Now()
	var res jobapi.Result
	switch job.Kind {
	case KindTranscribe:
		res = p.transcribe(ctx, job)
	case KindSummary:
		res = p.summarize(ctx, job)
	default:
		res = jobapi.Result{Status: jobapi.StatusFailed, Error: fmt.Sprintf("unknown job kind %q", job.Kind)}
	}

	p.metrics.RecordProcessed(string(job.Kind), string(res.Status), time.Since(started))
	// The job ctx may already be past its deadline; the terminal result
	// must still land or the client polls forever.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resultStoreTimeout)
	defer cancel()
	if err := p.results.PutResult(storeCtx, job.ID, res); err != nil {
		return fmt.Errorf("store result for job %s: %w", job.ID, err)
	}
	if res.Status == jobapi.StatusFailed {
		return fmt.Errorf("job %s: %s", job.ID, res.Error)
	}
	return nil
}

func (p *Processor) transcribe(ctx context.Context, job Job) jobapi.Result {
	defer p.deleteObject(job)

	if p.transcriber == nil {
		return failed(errNoTranscriber)
	}
	p.markProcessing(ctx, job)

	rc, err := p.objects.Open(ctx, job.ObjectKey)
	if err != nil {
		return failed(fmt.Errorf("open staged audio: %w", err))
	}
	defer func() { _ = rc.Close() }()

	transcript, err := p.transcriber.Transcribe(ctx, job.Filename, rc)
	if err != nil {
		return failed(err)
	}

	res := jobapi.Result{
		Status:           jobapi.StatusCompleted,
		Transcription:    transcript.Text,
		DetectedLanguage: transcript.Language,
	}
	if strings.TrimSpace(transcript.Text) == "" {
		res.ErrorDetail = DetailNoSpeech
	}
	p.logger.Info("transcription completed",
		zap.String("job_id", job.ID),
		zap.Int("chars", len(transcript.Text)),
		zap.String("language", transcript.Language),
	)
	return res
}

func (p *Processor) summarize(ctx context.Context, job Job) jobapi.Result {
	if p.summarizer == nil {
		return failed(errNoSummarizer)
	}
	if strings.TrimSpace(job.Text) == "" {
		return jobapi.Result{Status: jobapi.StatusCompleted, Summary: ""}
	}
	p.markProcessing(ctx, job)

	summary, err := p.summarizer.Summarize(ctx, job.Text)
	if err != nil {
		return failed(err)
	}
	p.logger.Info("summary completed", zap.String("job_id", job.ID), zap.Int("chars", len(summary)))
	return jobapi.Result{Status: jobapi.StatusCompleted, Summary: summary}
}

func (p *Processor) markProcessing(ctx context.Context, job Job) {
	if err := p.results.PutResult(ctx, job.ID, jobapi.Result{Status: jobapi.StatusProcessing}); err != nil {
		p.logger.Warn("store processing status", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// deleteObject removes staged audio even when the job context is done.
func (p *Processor) deleteObject(job Job) {
	if job.ObjectKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.objects.Delete(ctx, job.ObjectKey); err != nil {
		p.logger.Warn("delete staged audio", zap.String("job_id", job.ID), zap.String("key", job.ObjectKey), zap.Error(err))
	}
}

func failed(err error) jobapi.Result {
	return jobapi.Result{Status: jobapi.StatusFailed, Error: err.Error()}
}
