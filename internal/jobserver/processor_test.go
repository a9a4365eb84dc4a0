package jobserver

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
	"github.com/sjawhar/chunkscribe/internal/objectstore"
	"github.com/sjawhar/chunkscribe/internal/storage"
	"github.com/sjawhar/chunkscribe/internal/transcribe"
)

type fakeTranscriber struct {
	transcript transcribe.Transcript
	err        error

	gotFilename string
	gotAudio    string
	onCall      func()
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, r io.Reader) (transcribe.Transcript, error) {
	f.gotFilename = filename
	b, _ := io.ReadAll(r)
	f.gotAudio = string(b)
	if f.onCall != nil {
		f.onCall()
	}
	return f.transcript, f.err
}

// stallingTranscriber holds the job until its context ends.
type stallingTranscriber struct{}

func (stallingTranscriber) Transcribe(ctx context.Context, _ string, _ io.Reader) (transcribe.Transcript, error) {
	<-ctx.Done()
	return transcribe.Transcript{}, ctx.Err()
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.summary, f.err
}

type processorFixture struct {
	results *storage.SQLiteStore
	objects *objectstore.Local
}

func newProcessorFixture(t *testing.T) processorFixture {
	t.Helper()
	results, err := storage.NewSQLiteStore(storage.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	objects, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	return processorFixture{results: results, objects: objects}
}

func (f processorFixture) stage(t *testing.T, jobID, filename, data string) Job {
	t.Helper()
	key := objectstore.UploadKey(jobID, filename)
	require.NoError(t, f.objects.Put(context.Background(), key, strings.NewReader(data)))
	return Job{ID: jobID, Kind: KindTranscribe, ObjectKey: key, Filename: filename}
}

func (f processorFixture) requireDeleted(t *testing.T, key string) {
	t.Helper()
	_, err := f.objects.Open(context.Background(), key)
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestProcessTranscription(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()
	job := fx.stage(t, "J1", "chunk-a.wav", "RIFF")

	tr := &fakeTranscriber{transcript: transcribe.Transcript{Text: "안녕하세요", Language: "korean"}}
	tr.onCall = func() {
		res, err := fx.results.GetResult(ctx, "J1")
		require.NoError(t, err)
		assert.Equal(t, jobapi.StatusProcessing, res.Status)
	}
	p := NewProcessor(fx.results, fx.objects, tr, nil, nil, nil)

	require.NoError(t, p.Process(ctx, job))

	assert.Equal(t, "chunk-a.wav", tr.gotFilename)
	assert.Equal(t, "RIFF", tr.gotAudio)
	res, err := fx.results.GetResult(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, jobapi.Result{Status: jobapi.StatusCompleted, Transcription: "안녕하세요", DetectedLanguage: "korean"}, res)
	fx.requireDeleted(t, job.ObjectKey)
}

func TestProcessEmptyTranscriptionAddsDetail(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()
	job := fx.stage(t, "J1", "a.webm", "x")

	p := NewProcessor(fx.results, fx.objects, &fakeTranscriber{}, nil, nil, nil)
	require.NoError(t, p.Process(ctx, job))

	res, err := fx.results.GetResult(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, jobapi.StatusCompleted, res.Status)
	assert.Empty(t, res.Transcription)
	assert.Equal(t, DetailNoSpeech, res.ErrorDetail)
}

func TestProcessTranscriptionFailure(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()
	job := fx.stage(t, "J1", "a.webm", "x")

	p := NewProcessor(fx.results, fx.objects, &fakeTranscriber{err: errors.New("whisper down")}, nil, nil, nil)
	err := p.Process(ctx, job)
	require.Error(t, err)

	res, getErr := fx.results.GetResult(ctx, "J1")
	require.NoError(t, getErr)
	assert.Equal(t, jobapi.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "whisper down")
	fx.requireDeleted(t, job.ObjectKey)
}

func TestProcessTimeoutStoresFailure(t *testing.T) {
	fx := newProcessorFixture(t)
	job := fx.stage(t, "T1", "a.wav", "x")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := NewProcessor(fx.results, fx.objects, stallingTranscriber{}, nil, nil, nil)
	err := p.Process(ctx, job)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "store result")

	res, getErr := fx.results.GetResult(context.Background(), "T1")
	require.NoError(t, getErr)
	assert.Equal(t, jobapi.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "deadline exceeded")
	fx.requireDeleted(t, job.ObjectKey)
}

func TestProcessMissingStagedAudio(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()
	job := Job{ID: "J1", Kind: KindTranscribe, ObjectKey: objectstore.UploadKey("J1", "a.wav"), Filename: "a.wav"}

	p := NewProcessor(fx.results, fx.objects, &fakeTranscriber{}, nil, nil, nil)
	require.Error(t, p.Process(ctx, job))

	res, err := fx.results.GetResult(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, jobapi.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "object not found")
}

func TestProcessWithoutTranscriberStillDeletesAudio(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()
	job := fx.stage(t, "J1", "a.wav", "x")

	p := NewProcessor(fx.results, fx.objects, nil, nil, nil, nil)
	require.Error(t, p.Process(ctx, job))

	res, err := fx.results.GetResult(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, jobapi.StatusFailed, res.Status)
	fx.requireDeleted(t, job.ObjectKey)
}

func TestProcessSummary(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()
	sum := &fakeSummarizer{summary: "- shipped"}

	p := NewProcessor(fx.results, fx.objects, nil, sum, nil, nil)
	require.NoError(t, p.Process(ctx, Job{ID: "summary:J1", Kind: KindSummary, Text: "we shipped"}))

	res, err := fx.results.GetResult(ctx, "summary:J1")
	require.NoError(t, err)
	assert.Equal(t, jobapi.Result{Status: jobapi.StatusCompleted, Summary: "- shipped"}, res)
}

func TestProcessBlankSummaryCompletesEmpty(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()
	sum := &fakeSummarizer{summary: "unused"}

	p := NewProcessor(fx.results, fx.objects, nil, sum, nil, nil)
	require.NoError(t, p.Process(ctx, Job{ID: "summary:J1", Kind: KindSummary, Text: "  "}))

	res, err := fx.results.GetResult(ctx, "summary:J1")
	require.NoError(t, err)
	assert.Equal(t, jobapi.StatusCompleted, res.Status)
	assert.Empty(t, res.Summary)
	assert.Zero(t, sum.calls)
}

func TestProcessSummaryFailure(t *testing.T) {
	fx := newProcessorFixture(t)
	ctx := context.Background()

	p := NewProcessor(fx.results, fx.objects, nil, &fakeSummarizer{err: errors.New("rate limited")}, nil, nil)
	require.Error(t, p.Process(ctx, Job{ID: "summary:J1", Kind: KindSummary, Text: "text"}))

	res, err := fx.results.GetResult(ctx, "summary:J1")
	require.NoError(t, err)
	assert.Equal(t, jobapi.StatusFailed, res.Status)
	assert.Equal(t, "rate limited", res.Error)
}
