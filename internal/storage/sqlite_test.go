package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
	"github.com/sjawhar/chunkscribe/internal/jobs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSQLiteStore(t *testing.T, opts ...SQLiteOption) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(MemoryDSN, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	var mode string
	require.NoError(t, store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.GreaterOrEqual(t, timeout, 5000)
}

func TestChunkHistoryRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)

	states := []jobs.ChunkJob{
		{ChunkID: "A", Kind: jobs.KindTranscript, Status: jobs.StatusUploading, UpdatedAt: at},
		{ChunkID: "A", Kind: jobs.KindTranscript, JobID: "J1", Status: jobs.StatusProcessing, UpdatedAt: at.Add(time.Second)},
		{ChunkID: "B", Kind: jobs.KindTranscript, Status: jobs.StatusUploading, UpdatedAt: at},
		{ChunkID: "A", Kind: jobs.KindTranscript, JobID: "J1", Status: jobs.StatusCompleted, Transcript: " hello ", DetectedLanguage: "en", Warning: "short", UpdatedAt: at.Add(2 * time.Second)},
	}
	for _, s := range states {
		require.NoError(t, store.RecordChunkJob(ctx, s))
	}

	history, err := store.ChunkHistory(ctx, "A")
	require.NoError(t, err)
	require.Len(t, history, 3)

	last := history[2]
	assert.Equal(t, jobs.StatusCompleted, last.Status)
	assert.Equal(t, "hello", last.Transcript)
	assert.Equal(t, "short", last.Warning)
	assert.Equal(t, "en", last.DetectedLanguage)
	assert.Equal(t, "J1", last.JobID)
	assert.True(t, last.UpdatedAt.Equal(at.Add(2*time.Second)), "recorded_at %s", last.UpdatedAt)
}

func TestRecordChunkJobRequiresID(t *testing.T) {
	store := newTestSQLiteStore(t)
	assert.Error(t, store.RecordChunkJob(context.Background(), jobs.ChunkJob{Status: jobs.StatusFailed}))
}

func TestResultLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := store.GetResult(ctx, "J1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutResult(ctx, "J1", jobapi.Result{Status: jobapi.StatusProcessing}))
	want := jobapi.Result{Status: jobapi.StatusCompleted, Transcription: "hi", DetectedLanguage: "ko"}
	require.NoError(t, store.PutResult(ctx, "J1", want))

	got, err := store.GetResult(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, store.DeleteResult(ctx, "J1"))
	_, err = store.GetResult(ctx, "J1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultsExpire(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)}
	store := newTestSQLiteStore(t, WithResultTTL(time.Minute), withClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.PutResult(ctx, "old", jobapi.Result{Status: jobapi.StatusFailed, Error: "x"}))
	clock.Advance(30 * time.Second)
	require.NoError(t, store.PutResult(ctx, "new", jobapi.Result{Status: jobapi.StatusProcessing}))
	clock.Advance(45 * time.Second)

	_, err := store.GetResult(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetResult(ctx, "new")
	assert.NoError(t, err)

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = store.RecordChunkJob(ctx, jobs.ChunkJob{
				ChunkID: "A",
				Kind:    jobs.KindTranscript,
				Status:  jobs.StatusProcessing,
				JobID:   fmt.Sprintf("job-%d", idx),
			})
			_ = store.PutResult(ctx, fmt.Sprintf("job-%d", idx), jobapi.Result{Status: jobapi.StatusProcessing})
		}(i)
	}
	wg.Wait()

	history, err := store.ChunkHistory(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, history, 20)
}
